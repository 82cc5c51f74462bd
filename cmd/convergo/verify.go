package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/convergo/internal/application/convergence"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/sink"
	"github.com/alexisbeaulieu97/convergo/pkg/diff"
)

type verifyOptions struct {
	showDiff bool
}

func newVerifyCmd(root *rootFlags) *cobra.Command {
	opts := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify targets match the configuration without making changes",
		Long: `Verify performs read-only probes of every configured target. Returns exit
code 0 if all targets are satisfied, exit code 1 if any changes are needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.showDiff, "diff", false, "Show how the recorded status file differs from the probed state")

	return cmd
}

func runVerify(cmd *cobra.Command, flags *rootFlags, opts *verifyOptions) error {
	ctx, c, err := openContainer(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()

	plan, err := c.Prepare(ctx)
	if err != nil {
		return err
	}
	report, err := c.VerifyUseCase().Verify(ctx, plan)
	if err != nil {
		return err
	}

	var drift string
	if opts.showDiff && plan.HasDevice() && c.Config.Sinks.StatusFile != "" {
		drift, err = statusDrift(c.Config.Sinks.StatusFile, plan.StatusField, report.JoinState)
		if err != nil {
			return newCommandError("verify", "reading the recorded status file", err, "Check that sinks.status_file is readable.")
		}
	}

	if flags.json {
		if err := writeJSON(cmd.OutOrStdout(), verifyJSON(report, drift)); err != nil {
			return err
		}
	} else {
		printVerify(newPrinter(cmd.OutOrStdout()), report)
		if opts.showDiff {
			printDrift(cmd.OutOrStdout(), drift)
		}
	}

	if !report.AllSatisfied() {
		return unsatisfied("changes needed")
	}
	return nil
}

// statusDrift diffs the recorded status fields against the same fields with
// the probed join state substituted.
func statusDrift(path, field string, observed reconcile.JoinState) (string, error) {
	recorded, err := sink.NewStatusFile(path, nil).Fields()
	if err != nil {
		return "", err
	}
	current := make(map[string]string, len(recorded)+1)
	for k, v := range recorded {
		current[k] = v
	}
	current[field] = string(observed)
	return diff.Unified(renderFields(recorded), renderFields(current), path+" (recorded)", "probed"), nil
}

func renderFields(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, fields[k])
	}
	return []byte(b.String())
}

func verdictTone(v reconcile.Verdict) tone {
	switch v {
	case reconcile.VerdictSatisfied:
		return toneOK
	case reconcile.VerdictBlocked:
		return toneFail
	}
	return toneWarn
}

func printVerify(p *printer, report *convergence.VerifyReport) {
	p.title("Verification results")

	rows := make([][]string, 0, len(report.Results))
	tones := make([]tone, 0, len(report.Results))
	for _, v := range report.Results {
		rows = append(rows, []string{
			v.Target.ID(),
			string(v.Target.Kind()),
			string(v.Decision.Verdict),
			v.Decision.Source,
			truncate(v.Decision.Reason, 60),
		})
		tones = append(tones, verdictTone(v.Decision.Verdict))
	}
	p.table([]string{"TARGET", "KIND", "VERDICT", "SOURCE", "REASON"}, rows, tones, 2)

	p.line("")
	counts := report.Counts()
	for _, verdict := range []reconcile.Verdict{reconcile.VerdictSatisfied, reconcile.VerdictUnsatisfied, reconcile.VerdictBlocked, reconcile.VerdictUnknown} {
		p.line("  %-12s %d", verdict, counts[verdict])
	}
	if report.JoinState != "" {
		p.line("  %-12s %s", "join_state", report.JoinState)
	}

	if report.AllSatisfied() {
		p.line("\n%s", p.paint(toneOK, "All targets satisfied - no changes needed"))
	} else {
		p.line("\n%s", p.paint(toneFail, "Changes needed - run 'convergo apply' to fix"))
	}
}

func printDrift(w io.Writer, drift string) {
	if drift == "" {
		fmt.Fprintln(w, "\nRecorded status matches the probed state.")
		return
	}
	fmt.Fprintf(w, "\nStatus drift:\n%s", drift)
}

type verificationJSON struct {
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
	Verdict  string `json:"verdict"`
	Source   string `json:"source,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

type verifyOutput struct {
	AllSatisfied bool               `json:"all_satisfied"`
	JoinState    string             `json:"join_state,omitempty"`
	Counts       map[string]int     `json:"counts"`
	Results      []verificationJSON `json:"results"`
	Diff         string             `json:"diff,omitempty"`
}

func verifyJSON(report *convergence.VerifyReport, drift string) verifyOutput {
	out := verifyOutput{
		AllSatisfied: report.AllSatisfied(),
		JoinState:    string(report.JoinState),
		Counts:       make(map[string]int),
		Results:      make([]verificationJSON, 0, len(report.Results)),
		Diff:         drift,
	}
	for verdict, n := range report.Counts() {
		out.Counts[string(verdict)] = n
	}
	for _, v := range report.Results {
		entry := verificationJSON{
			TargetID: v.Target.ID(),
			Kind:     string(v.Target.Kind()),
			Verdict:  string(v.Decision.Verdict),
			Source:   v.Decision.Source,
			Reason:   v.Decision.Reason,
		}
		if v.Decision.Err != nil {
			entry.Error = v.Decision.Err.Error()
		}
		out.Results = append(out.Results, entry)
	}
	return out
}
