package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/convergo/internal/application/hardmatch"
)

type hardMatchOptions struct {
	users []string
}

func newHardMatchCmd(root *rootFlags) *cobra.Command {
	opts := &hardMatchOptions{}

	cmd := &cobra.Command{
		Use:   "hardmatch",
		Short: "Link on-premises accounts to their cloud users by immutable id",
		Long: `Hardmatch resolves every listed on-premises principal to exactly one cloud
user, verifying given name and surname, and writes the immutable id derived
from its objectGUID. Unmatched and ambiguous principals are reported and
left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHardMatch(cmd, root, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.users, "user", nil, "Restrict the batch to these sAMAccountNames or UPNs")

	return cmd
}

func runHardMatch(cmd *cobra.Command, flags *rootFlags, opts *hardMatchOptions) error {
	ctx, c, err := openContainer(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()

	svc, hmOpts, err := c.HardMatch()
	if err != nil {
		return err
	}
	if len(opts.users) > 0 {
		hmOpts.Filter.Keys = opts.users
	}

	report, err := svc.Run(ctx, hmOpts)
	if err != nil {
		return err
	}

	if flags.json {
		if err := writeJSON(cmd.OutOrStdout(), hardMatchJSON(report, c.DryRun())); err != nil {
			return err
		}
	} else {
		printHardMatch(newPrinter(cmd.OutOrStdout()), report, c.DryRun())
	}

	if report.Failed() {
		return unsatisfied("hard match incomplete")
	}
	return nil
}

func statusTone(s hardmatch.Status) tone {
	switch s {
	case hardmatch.StatusAlreadySet, hardmatch.StatusUpdated, hardmatch.StatusWouldUpdate:
		return toneOK
	case hardmatch.StatusNoMatch, hardmatch.StatusSkipped:
		return toneWarn
	}
	return toneFail
}

func printHardMatch(p *printer, report *hardmatch.Report, dryRun bool) {
	heading := "Hard match results"
	if dryRun {
		heading += " (dry run)"
	}
	p.title(heading)

	rows := make([][]string, 0, len(report.Results))
	tones := make([]tone, 0, len(report.Results))
	for _, r := range report.Results {
		candidate, rule := "", ""
		if r.Resolution.Verified {
			candidate = r.Resolution.Candidate.Key
			rule = string(r.Resolution.Candidate.Rule)
		}
		detail := ""
		if r.Err != nil {
			detail = truncate(r.Err.Error(), 60)
		}
		rows = append(rows, []string{r.Key, string(r.Status), candidate, rule, strconv.Itoa(r.Resolution.Tried), detail})
		tones = append(tones, statusTone(r.Status))
	}
	p.table([]string{"PRINCIPAL", "STATUS", "MATCH", "RULE", "TRIED", "DETAIL"}, rows, tones, 1)

	p.line("")
	counts := report.Counts()
	for _, status := range hardmatch.AllStatuses {
		if n := counts[status]; n > 0 {
			p.line("  %-14s %d", status, n)
		}
	}
	p.line("  %-14s %s", "duration", report.Finished.Sub(report.Started).Round(time.Millisecond))
}

type principalJSON struct {
	Principal   string `json:"principal"`
	Status      string `json:"status"`
	Candidate   string `json:"candidate,omitempty"`
	Rule        string `json:"rule,omitempty"`
	Tried       int    `json:"tried"`
	RemoteID    string `json:"remote_id,omitempty"`
	ImmutableID string `json:"immutable_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type hardMatchOutput struct {
	DryRun     bool            `json:"dry_run"`
	Counts     map[string]int  `json:"counts"`
	Principals []principalJSON `json:"principals"`
	Duration   float64         `json:"duration_seconds"`
}

func hardMatchJSON(report *hardmatch.Report, dryRun bool) hardMatchOutput {
	out := hardMatchOutput{
		DryRun:     dryRun,
		Counts:     make(map[string]int),
		Principals: make([]principalJSON, 0, len(report.Results)),
		Duration:   report.Finished.Sub(report.Started).Seconds(),
	}
	for status, n := range report.Counts() {
		out.Counts[string(status)] = n
	}
	for _, r := range report.Results {
		entry := principalJSON{
			Principal:   r.Key,
			Status:      string(r.Status),
			Tried:       r.Resolution.Tried,
			ImmutableID: r.ImmutableID,
		}
		if r.Resolution.Verified {
			entry.Candidate = r.Resolution.Candidate.Key
			entry.Rule = string(r.Resolution.Candidate.Rule)
			entry.RemoteID = r.Resolution.Record.ID
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		out.Principals = append(out.Principals, entry)
	}
	return out
}
