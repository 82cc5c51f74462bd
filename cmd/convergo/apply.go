package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/convergo/internal/application/convergence"
	"github.com/alexisbeaulieu97/convergo/internal/application/preflight"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
)

func newApplyCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "apply",
		Aliases: []string{"device"},
		Short:   "Converge the device join, enrollment and registry targets",
		Long: `Apply probes every configured target and runs its corrective action until the
target reaches its desired state or the attempt budget is spent. Exit code 0
means every target is satisfied, 1 that at least one is not.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, root)
		},
	}
}

func runApply(cmd *cobra.Command, flags *rootFlags) error {
	ctx, c, err := openContainer(cmd, flags)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(ctx); closeErr != nil {
			c.Logger.Warn(ctx, "shutdown incomplete", "error", closeErr)
		}
	}()

	if _, checkErr := preflight.NewService(c.Logger).Run(ctx, preflight.ChecksFor(c.Config)); checkErr != nil {
		c.Logger.Warn(ctx, "preflight checks failed; continuing", "error", checkErr)
	}

	plan, err := c.Prepare(ctx)
	if err != nil {
		return err
	}
	report, err := c.ApplyUseCase().Apply(ctx, plan, c.ApplyOptions())
	if err != nil {
		return err
	}

	if flags.json {
		if err := writeJSON(cmd.OutOrStdout(), applyJSON(report, c.DryRun())); err != nil {
			return err
		}
	} else {
		printApply(newPrinter(cmd.OutOrStdout()), report, c.DryRun())
	}

	if !report.Summary.AllSatisfied() {
		return unsatisfied("%d of %d targets not satisfied", report.Summary.Total-satisfiedCount(report.Summary), report.Summary.Total)
	}
	return nil
}

func satisfiedCount(s *reconcile.Summary) int {
	return s.Counts[reconcile.OutcomeAlreadySatisfied] + s.Counts[reconcile.OutcomeConverged]
}

func outcomeTone(o reconcile.Outcome) tone {
	switch {
	case o.IsSatisfied():
		return toneOK
	case o.IsFailure():
		return toneFail
	}
	return toneWarn
}

func printApply(p *printer, report *convergence.Report, dryRun bool) {
	heading := "Convergence results"
	if dryRun {
		heading += " (dry run)"
	}
	p.title(heading)

	rows := make([][]string, 0, report.Summary.Total)
	tones := make([]tone, 0, report.Summary.Total)
	for _, o := range report.Summary.Outcomes {
		kind := string(o.Kind)
		if o.Projected {
			kind += " (projected)"
		}
		rows = append(rows, []string{
			o.TargetID,
			kind,
			strconv.Itoa(o.ActionCount()),
			o.Duration.Round(time.Millisecond).String(),
			truncate(o.Reason, 60),
		})
		tones = append(tones, outcomeTone(o))
	}
	p.table([]string{"TARGET", "OUTCOME", "ACTIONS", "DURATION", "REASON"}, rows, tones, 1)

	p.line("")
	for _, kind := range reconcile.AllOutcomeKinds {
		if n := report.Summary.Counts[kind]; n > 0 {
			p.line("  %-26s %d", kind, n)
		}
	}
	if report.JoinState != "" {
		p.line("  %-26s %s", "join_state", report.JoinState)
	}
	if report.Escalated {
		p.line("  %s", p.paint(toneWarn, "escalation command ran"))
	}
	p.line("  %-26s %s", "duration", report.Finished.Sub(report.Started).Round(time.Millisecond))
}

type outcomeJSON struct {
	TargetID  string  `json:"target_id"`
	Outcome   string  `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	Error     string  `json:"error,omitempty"`
	Actions   int     `json:"actions"`
	Projected bool    `json:"projected,omitempty"`
	Duration  float64 `json:"duration_seconds"`
}

type applyOutput struct {
	DryRun    bool           `json:"dry_run"`
	JoinState string         `json:"join_state,omitempty"`
	Escalated bool           `json:"escalated"`
	Counts    map[string]int `json:"counts"`
	Outcomes  []outcomeJSON  `json:"outcomes"`
	Duration  float64        `json:"duration_seconds"`
}

func applyJSON(report *convergence.Report, dryRun bool) applyOutput {
	out := applyOutput{
		DryRun:    dryRun,
		JoinState: string(report.JoinState),
		Escalated: report.Escalated,
		Counts:    make(map[string]int),
		Outcomes:  make([]outcomeJSON, 0, report.Summary.Total),
		Duration:  report.Finished.Sub(report.Started).Seconds(),
	}
	for kind, n := range report.Summary.Counts {
		out.Counts[string(kind)] = n
	}
	for _, o := range report.Summary.Outcomes {
		entry := outcomeJSON{
			TargetID:  o.TargetID,
			Outcome:   string(o.Kind),
			Reason:    o.Reason,
			Actions:   o.ActionCount(),
			Projected: o.Projected,
			Duration:  o.Duration.Seconds(),
		}
		if o.Err != nil {
			entry.ErrorCode = string(o.ErrorCode())
			entry.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, entry)
	}
	return out
}
