package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"option-planner/internal/api"
	"option-planner/internal/audit"
	"option-planner/internal/config"
	"option-planner/internal/logging"
	"option-planner/internal/planner"
	"option-planner/internal/store"
	"option-planner/internal/stream"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the planner HTTP API",
		Long: `Start the HTTP API used by the planning form.

Drafts live in memory; submitted plans and their trade history are written
to the configured store. Connected forms receive gate_status updates over
/api/v1/ws when scheduling opens or closes.`,
		Example: `  planner serve
  planner serve --addr :9090
  PLANNER_DB_PATH=/tmp/plans.db planner serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app, cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

// openStore opens the configured plan store.
func openStore(cfg *config.Config) (store.PlanStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.Store.Path)
	}
}

func serve(ctx context.Context, app *App, cfg *config.Config) error {
	logger := logging.NewLoggerWithConfig(cfg.LogConfig())
	if app.Logger.GetLevel() == zerolog.DebugLevel {
		logger = logger.Level(zerolog.DebugLevel)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		auditLog, err = audit.NewLogger(audit.DefaultConfig(cfg.Audit.Path))
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer auditLog.Close()
	}

	validator, gate, err := app.validator()
	if err != nil {
		return err
	}
	svc := planner.New(planner.Options{
		Validator: validator,
		Gate:      gate,
		Defaults:  cfg.PlanDefaults(),
		Store:     st,
		Audit:     auditLog,
		Logger:    logger,
	})

	hub := stream.NewHub(logger)
	hub.Start(ctx)
	defer hub.Stop()

	watcher := stream.NewGateWatcher(gate, hub, cfg.Server.GatePollInterval, app.Clock, logger)
	go watcher.Run(ctx)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Options{
			Planner: svc,
			Hub:     hub,
			Clock:   app.Clock,
			Logger:  logger,
			Timeout: cfg.Server.WriteTimeout,
		}).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("store", cfg.Store.Driver).
			Str("cutoff", cfg.Cutoff().String()).
			Msg("Planner API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down planner API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown error")
		return err
	}
	return nil
}
