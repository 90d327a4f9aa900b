package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/refledger/internal/clock"
	"github.com/roach88/refledger/internal/commission"
	"github.com/roach88/refledger/internal/config"
	"github.com/roach88/refledger/internal/payment"
	"github.com/roach88/refledger/internal/referral"
	"github.com/roach88/refledger/internal/registry"
	"github.com/roach88/refledger/internal/stats"
	"github.com/roach88/refledger/internal/store"
)

// app is the ledger core wired from configuration for one command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    *OutputFormatter
	store  *store.Store

	registry *registry.Registry
	resolver *referral.Resolver
	ledger   *commission.Ledger
	payments *payment.Service
	reporter *stats.Reporter
}

// withApp opens the ledger, runs fn and closes it. Any error is reported in
// the selected output format.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	out := newFormatter(cmd, opts)
	a, err := openApp(cmd, opts, out)
	if err != nil {
		return out.Fail(err)
	}
	defer a.close()

	if err := fn(cmd.Context(), a); err != nil {
		return out.Fail(err)
	}
	return nil
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	var loadOpts []config.Option
	if opts.Environ != nil {
		loadOpts = append(loadOpts, config.WithEnvironment(opts.Environ))
	}
	cfg, err := config.Load(opts.ConfigPath, loadOpts...)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command, opts *RootOptions, out *OutputFormatter) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	rate, err := cfg.Rate()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid commission rate", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	out.VerboseLog("using database %s", cfg.Database)

	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	policy := cfg.RetryPolicy()
	clk := clock.System{}
	a := &app{cfg: cfg, logger: logger, out: out, store: st}
	a.registry = registry.New(st, registry.Options{
		CodeLength:   cfg.CodeLength,
		CodeAttempts: cfg.CodeAttempts,
		Clock:        clk,
		Logger:       logger,
		Retry:        policy,
	})
	a.resolver = referral.New(st, referral.Options{
		Clock:     clk,
		Logger:    logger,
		Retry:     policy,
		Retention: cfg.PendingRetention,
	})
	a.ledger = commission.New(st, commission.Options{
		Rate:   rate,
		Clock:  clk,
		Logger: logger,
		Retry:  policy,
	})
	a.payments = payment.New(st, a.resolver, a.ledger, payment.Options{
		Clock:  clk,
		Logger: logger,
		Retry:  policy,
	})
	a.reporter = stats.New(st, logger, policy)
	return a, nil
}

// close flushes counters to the debug log and closes the store.
func (a *app) close() {
	if samples, err := a.store.Metrics().Snapshot(); err == nil {
		for _, s := range samples {
			if s.Value == 0 {
				continue
			}
			a.logger.Debug("metric", "name", s.Name, "labels", s.Labels, "value", s.Value)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
