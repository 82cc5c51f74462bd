package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show how many invocations each target has failed in a row",
		Long: `History lists the execution counters kept in the state directory. A counter
grows by one for every invocation that leaves its target unsatisfied and is
reset once the target converges; settings.escalation_threshold compares
against it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, root)
		},
	}
}

func runHistory(cmd *cobra.Command, flags *rootFlags) error {
	ctx, c, err := openContainer(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()

	entries, err := c.Counter.History(ctx)
	if err != nil {
		return newCommandError("history", "reading execution counters", err, "Check that settings.state_dir is readable.")
	}

	if flags.json {
		type entryJSON struct {
			TargetID    string    `json:"target_id"`
			Executions  int       `json:"executions"`
			LastOutcome string    `json:"last_outcome"`
			UpdatedAt   time.Time `json:"updated_at"`
		}
		out := make([]entryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, entryJSON{TargetID: e.Key, Executions: e.Executions, LastOutcome: e.LastOutcome, UpdatedAt: e.UpdatedAt})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	p := newPrinter(cmd.OutOrStdout())
	if len(entries) == 0 {
		p.line("No executions recorded yet.")
		return nil
	}

	threshold := c.Config.Settings.EscalationThreshold
	rows := make([][]string, 0, len(entries))
	tones := make([]tone, 0, len(entries))
	for _, e := range entries {
		t := toneOK
		switch {
		case threshold > 0 && e.Executions >= threshold:
			t = toneFail
		case e.Executions > 0:
			t = toneWarn
		}
		rows = append(rows, []string{e.Key, strconv.Itoa(e.Executions), e.LastOutcome, e.UpdatedAt.Local().Format(time.DateTime)})
		tones = append(tones, t)
	}
	p.table([]string{"TARGET", "EXECUTIONS", "LAST OUTCOME", "UPDATED"}, rows, tones, 1)
	return nil
}
