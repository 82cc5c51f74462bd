// Package app assembles the long-lived services behind every command from a
// configuration file and command-line overrides.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/application/convergence"
	"github.com/alexisbeaulieu97/convergo/internal/application/hardmatch"
	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	infraconfig "github.com/alexisbeaulieu97/convergo/internal/infrastructure/config"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/counter"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/directory"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/graph"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/handlers"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/hostinfo"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/localstate"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/metrics"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/process"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/sink"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Options configures New. Nil adapters are replaced by the platform
// implementations; tests inject fakes.
type Options struct {
	ConfigPath string
	Overrides  Overrides
	// Env supplies CONVERGO_* overrides. Nil reads the process environment
	// layered over a .env file next to the configuration.
	Env       config.Environment
	LogWriter io.Writer
	NoColor   bool

	Local   ports.LocalStateClient
	Invoker ports.ProcessInvoker
	Remote  ports.RemoteIdentityClient
	Host    ports.HostInfo
}

// Container bundles the services created at startup.
type Container struct {
	Config   *config.Config
	Logger   ports.Logger
	Events   *events.LoggingPublisher
	Metrics  *metrics.Collector
	Counter  *counter.SQLite
	Invoker  ports.ProcessInvoker
	Local    ports.LocalStateClient
	Host     ports.HostInfo
	Remote   ports.RemoteIdentityClient
	Sink     *sink.Multi
	Handlers *handlers.Registry

	subscriptions []ports.Subscription
}

// New loads the configuration and wires every adapter it asks for. Log
// events raised before the configured logger exists are buffered and
// replayed into it.
func New(ctx context.Context, opts Options) (*Container, error) {
	buffer := logging.NewEventBuffer(0)
	boot := logging.NewBufferedLogger(buffer)

	env := opts.Env
	if env == nil {
		loaded, err := config.LoadEnvironment(filepath.Join(filepath.Dir(opts.ConfigPath), ".env"))
		if err != nil {
			return nil, err
		}
		env = loaded
	}

	cfg, err := infraconfig.NewYAMLLoader(boot, env).Load(ctx, opts.ConfigPath)
	if err != nil {
		buffer.Flush(fallbackLogger(opts.LogWriter))
		return nil, err
	}
	if err := opts.Overrides.Apply(cfg); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Writer:    opts.LogWriter,
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		NoColor:   opts.NoColor,
		Layer:     "app",
		Component: "convergo",
	})
	if err != nil {
		return nil, reconcile.NewError(reconcile.ErrCodeValidation, "invalid logging configuration", err, nil)
	}
	buffer.Flush(logger)

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Events:   events.NewLoggingPublisher(logger.With("component", "events")),
		Metrics:  metrics.NewCollector(logger.With("component", "metrics")),
		Invoker:  opts.Invoker,
		Local:    opts.Local,
		Host:     opts.Host,
		Remote:   opts.Remote,
		Handlers: handlers.NewRegistry(),
	}
	if err := c.wire(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(ctx context.Context) error {
	cfg := c.Config

	subs, err := metrics.Subscribe(c.Events, c.Metrics)
	if err != nil {
		return fmt.Errorf("subscribe metrics: %w", err)
	}
	c.subscriptions = subs

	if c.Invoker == nil {
		c.Invoker = process.NewInvoker(c.Logger.With("component", "process"))
	}
	if c.Local == nil {
		local, err := localstate.New(c.Logger.With("component", "localstate"))
		if err != nil {
			return err
		}
		c.Local = local
	}
	if c.Host == nil {
		c.Host = hostinfo.New(c.Logger.With("component", "hostinfo"))
	}
	if c.Remote == nil && cfg.Graph != nil {
		remote, err := graph.New(ctx, graphConfig(cfg.Graph), c.Logger.With("component", "graph"))
		if err != nil {
			return err
		}
		c.Remote = remote
	}

	store, err := counter.Open(filepath.Join(cfg.Settings.StateDir, counter.DefaultFileName))
	if err != nil {
		return err
	}
	c.Counter = store

	multi, err := buildSinks(ctx, cfg, c.Invoker, c.Host, c.Logger)
	if err != nil {
		return err
	}
	c.Sink = multi

	return registerHandlers(c.Handlers, handlerDeps{
		config:  cfg,
		invoker: c.Invoker,
		local:   c.Local,
		host:    c.Host,
		remote:  c.Remote,
		logger:  c.Logger,
	})
}

// Close flushes sinks, exports metrics and releases the execution counter.
// Every step runs even when an earlier one fails.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for _, sub := range c.subscriptions {
		sub.Unsubscribe()
	}
	c.subscriptions = nil
	if c.Sink != nil {
		if err := c.Sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Metrics != nil && c.Config != nil {
		if err := c.Metrics.WriteTextfile(c.Config.Metrics.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if c.Counter != nil {
		if err := c.Counter.Close(); err != nil {
			errs = append(errs, err)
		}
		c.Counter = nil
	}
	return errors.Join(errs...)
}

// DryRun reports whether corrective actions are simulated.
func (c *Container) DryRun() bool {
	return c.Config.Settings.DryRun
}

// ReconcileOptions derives retry settings from the configuration.
func (c *Container) ReconcileOptions() reconcile.Options {
	opts := reconcile.DefaultOptions()
	opts.MaxAttempts = c.Config.Settings.MaxAttempts
	opts.SettleDelay = c.Config.Settings.SettleDelayDuration()
	return opts
}

// ApplyOptions derives convergence run options from the configuration.
func (c *Container) ApplyOptions() convergence.ApplyOptions {
	return convergence.ApplyOptions{
		Reconcile:           c.ReconcileOptions(),
		DryRun:              c.DryRun(),
		EscalationThreshold: c.Config.Settings.EscalationThreshold,
		EscalationCommand:   c.Config.Settings.EscalationCommand,
	}
}

// Reporter builds the outcome reporter over the configured sinks.
func (c *Container) Reporter() *convergence.Reporter {
	return convergence.NewReporter(c.Sink, convergence.DefaultOutcomeSink, c.Logger.With("component", "reporter"), c.Events)
}

// Prepare builds and checks the convergence plan.
func (c *Container) Prepare(ctx context.Context) (convergence.Plan, error) {
	return convergence.NewPrepareUseCase(c.Handlers, c.Logger).Prepare(ctx, c.Config)
}

// ApplyUseCase builds the convergence run.
func (c *Container) ApplyUseCase() *convergence.ApplyUseCase {
	return convergence.NewApplyUseCase(c.Handlers, c.Counter, c.Invoker, c.Reporter(), c.Logger, c.Events)
}

// VerifyUseCase builds the read-only probe run.
func (c *Container) VerifyUseCase() *convergence.VerifyUseCase {
	return convergence.NewVerifyUseCase(c.Handlers, c.Logger)
}

// HardMatch builds the hard-match service and its options. It fails when the
// configuration has no hardmatch section or no Graph client.
func (c *Container) HardMatch() (*hardmatch.Service, hardmatch.Options, error) {
	hm := c.Config.HardMatch
	if hm == nil {
		return nil, hardmatch.Options{}, reconcile.NewError(reconcile.ErrCodeValidation, "configuration has no hardmatch section", nil, nil)
	}
	if c.Remote == nil {
		return nil, hardmatch.Options{}, reconcile.NewError(reconcile.ErrCodeValidation, "hard match requires a graph section", nil, nil)
	}

	dir, err := directory.Load(hm.PrincipalsFile)
	if err != nil {
		return nil, hardmatch.Options{}, err
	}
	nicknames, err := loadNicknames(hm)
	if err != nil {
		return nil, hardmatch.Options{}, err
	}

	svc := hardmatch.NewService(dir, c.Remote, c.Handlers, c.Sink, c.Logger.With("component", "hardmatch"), c.Events)
	return svc, hardmatch.Options{
		Domain:       hm.Domain,
		UseNicknames: hm.Nicknames,
		Nicknames:    nicknames,
		Filter:       ports.PrincipalFilter{EnabledOnly: hm.EnabledOnly, Keys: hm.Users},
		Parallelism:  c.Config.Settings.Parallelism,
		SinkID:       hm.SinkID,
		Reconcile:    c.ReconcileOptions(),
	}, nil
}

func loadNicknames(hm *config.HardMatch) (match.Nicknames, error) {
	table := match.DefaultNicknames()
	if hm.NicknameFile != "" {
		raw, err := config.LoadNicknames(hm.NicknameFile)
		if err != nil {
			return nil, err
		}
		table = match.NewNicknames(raw)
	}
	if len(hm.NicknameOverrides) > 0 {
		table = table.Merge(match.NewNicknames(hm.NicknameOverrides))
	}
	return table, nil
}

func graphConfig(g *config.Graph) graph.Config {
	timeout, _ := time.ParseDuration(g.Timeout)
	return graph.Config{
		TenantID:     g.TenantID,
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		BaseURL:      g.BaseURL,
		AuthorityURL: g.AuthorityURL,
		Timeout:      timeout,
		MaxRetries:   g.MaxRetries,
	}
}

func fallbackLogger(w io.Writer) ports.Logger {
	logger, err := logging.New(logging.Options{Writer: w, Format: logging.FormatConsole, Layer: "app", Component: "convergo"})
	if err != nil {
		return logging.NewNoOpLogger()
	}
	return logger
}
