package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/catalog"
	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/dispatch"
	"github.com/roach88/stockline/internal/flow"
	"github.com/roach88/stockline/internal/metrics"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/txn"
)

// app is the wired runtime shared by the commands that touch the store.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	metrics    *metrics.Metrics
	dispatcher *dispatch.Dispatcher
}

// loadConfig reads settings from the --config file, the search paths and
// the environment.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openApp loads the config, opens the store and wires the engine, the
// executor and the dispatcher. Diagnostics go to logw. The caller must
// Close the app.
func openApp(opts *RootOptions, logw io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, logw)

	logger.Debug("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	m := metrics.New()
	engine := flow.New(catalog.NewResolver(st),
		flow.WithConfig(flow.Config{
			DisplayCap: cfg.Flow.DisplayCap,
			MaxRows:    cfg.Flow.MaxRows,
			LabelCap:   cfg.Flow.LabelCap,
			TaxRateBps: cfg.Flow.TaxRateBps,
			Currency:   cfg.Flow.Currency,
		}),
		flow.WithLogger(logger),
	)
	exec := txn.New(txn.StoreLedger(st),
		txn.WithTaxRate(cfg.Flow.TaxRateBps),
		txn.WithLogger(logger),
	)
	d := dispatch.New(st, engine, exec,
		dispatch.WithIdleWindow(cfg.Session.IdleWindow),
		dispatch.WithTurnTimeout(cfg.Dispatch.TurnTimeout),
		dispatch.WithMetrics(m),
		dispatch.WithLogger(logger),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		metrics:    m,
		dispatcher: d,
	}, nil
}

// pool returns a per-identity worker pool over the dispatcher.
func (a *app) pool() *dispatch.Pool {
	return dispatch.NewPool(a.dispatcher,
		dispatch.WithPoolMetrics(a.metrics),
		dispatch.WithPoolLogger(a.logger),
	)
}

// Close closes the store.
func (a *app) Close() error {
	return a.store.Close()
}

// runContext returns a context cancelled on SIGINT, SIGTERM or when the
// command's own context ends.
func runContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// serveMetrics starts the metrics endpoint when an address is configured.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
}
