package main

import (
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/convergo/internal/application/preflight"
	infraconfig "github.com/alexisbeaulieu97/convergo/internal/infrastructure/config"
)

func newCheckCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and the tools and files it refers to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, root)
		},
	}
}

func runCheck(cmd *cobra.Command, flags *rootFlags) error {
	ctx, c, err := openContainer(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()

	if err := infraconfig.NewYAMLLoader(c.Logger, nil).Validate(ctx, flags.configPath); err != nil {
		return err
	}

	summary, checkErr := preflight.NewService(c.Logger).Run(ctx, preflight.ChecksFor(c.Config))

	if flags.json {
		type checkJSON struct {
			Type    string `json:"type"`
			Field   string `json:"field"`
			Subject string `json:"subject"`
			Passed  bool   `json:"passed"`
			Message string `json:"message"`
		}
		out := struct {
			Passed int         `json:"passed"`
			Failed int         `json:"failed"`
			Checks []checkJSON `json:"checks"`
		}{Passed: summary.Passed, Failed: summary.Failed, Checks: []checkJSON{}}
		for _, r := range summary.Results {
			out.Checks = append(out.Checks, checkJSON{
				Type: string(r.Check.Type), Field: r.Check.Field, Subject: r.Check.Subject,
				Passed: r.Passed, Message: r.Message,
			})
		}
		if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		p := newPrinter(cmd.OutOrStdout())
		p.title("Preflight checks")
		rows := make([][]string, 0, len(summary.Results))
		tones := make([]tone, 0, len(summary.Results))
		for _, r := range summary.Results {
			status, t := "ok", toneOK
			if !r.Passed {
				status, t = "failed", toneFail
			}
			rows = append(rows, []string{r.Check.Field, string(r.Check.Type), status, truncate(r.Message, 70)})
			tones = append(tones, t)
		}
		p.table([]string{"FIELD", "CHECK", "STATUS", "MESSAGE"}, rows, tones, 2)
		p.line("\n  passed %d, failed %d", summary.Passed, summary.Failed)
	}

	if checkErr != nil {
		return &exitError{code: exitUnsatisfied, err: checkErr, silent: true}
	}
	return nil
}
