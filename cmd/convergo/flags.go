package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/convergo/internal/app"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/logging"
)

const defaultConfigPath = "convergo.yaml"

type rootFlags struct {
	configPath  string
	dryRun      bool
	maxAttempts int
	settleDelay time.Duration
	domain      string
	nicknames   bool
	parallelism int
	verbose     bool
	json        bool
}

func (f *rootFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	pf.BoolVar(&f.dryRun, "dry-run", false, "Probe and report without changing anything")
	pf.IntVar(&f.maxAttempts, "max-attempts", 0, "Corrective attempts per target (overrides settings.max_attempts)")
	pf.DurationVar(&f.settleDelay, "settle-delay", 0, "Wait between an action and its re-probe, e.g. 30s")
	pf.StringVar(&f.domain, "domain", "", "Cloud UPN suffix for hard-match candidates")
	pf.BoolVar(&f.nicknames, "nicknames", false, "Try nickname synonyms of first names when hard matching")
	pf.IntVar(&f.parallelism, "parallelism", 0, "Concurrent principal resolutions during hard match")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&f.json, "json", false, "Print results as JSON")
}

// overrides turns the flags that were set into configuration overrides.
func (f *rootFlags) overrides(cmd *cobra.Command) app.Overrides {
	o := app.Overrides{
		DryRun:      f.dryRun,
		MaxAttempts: f.maxAttempts,
		Domain:      f.domain,
		Parallelism: f.parallelism,
		Verbose:     f.verbose,
	}
	if cmd.Flags().Changed("settle-delay") {
		d := f.settleDelay
		o.SettleDelay = &d
	}
	if cmd.Flags().Changed("nicknames") {
		v := f.nicknames
		o.Nicknames = &v
	}
	return o
}

func validateConfigPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("config file does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", abs)
	}
	return nil
}

// configureApp lets tests swap platform adapters.
var configureApp func(*app.Options)

// openContainer loads the configuration behind a command and tags the
// context with a fresh correlation id.
func openContainer(cmd *cobra.Command, flags *rootFlags) (context.Context, *app.Container, error) {
	if err := validateConfigPath(flags.configPath); err != nil {
		return nil, nil, &exitError{code: exitConfig, err: err}
	}

	ctx := logging.StartRun(cmd.Context())
	opts := app.Options{
		ConfigPath: flags.configPath,
		Overrides:  flags.overrides(cmd),
		LogWriter:  cmd.ErrOrStderr(),
		NoColor:    !isTerminal(cmd.ErrOrStderr()),
	}
	if configureApp != nil {
		configureApp(&opts)
	}

	c, err := app.New(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return ctx, c, nil
}

func isTerminal(w interface{}) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
