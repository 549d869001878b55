// Command gatekeepd runs the approval workflow engine with its HTTP
// API. Production deployments embed the engine package directly and
// supply real agent and runner adapters; this binary wires the dev
// adapters from dev.go so the full gate lifecycle can be exercised
// end to end.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/api"
	"github.com/zakops/gatekeep/engine"
	"github.com/zakops/gatekeep/store"
	"github.com/zakops/gatekeep/store/memory"
	"github.com/zakops/gatekeep/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gatekeepd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := gatekeep.ConfigFromEnv()
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, pgErr := postgres.New(ctx, cfg.DatabaseURL, postgres.WithLogger(logger))
		if pgErr != nil {
			return pgErr
		}
		st = pg
	} else {
		logger.Warn("no database url configured, using in-memory store")
		st = memory.New()
	}
	defer st.Close()

	if err = st.Migrate(ctx); err != nil {
		return err
	}

	eng, err := engine.Build(cfg, st, &devAgent{}, &devRunner{logger: logger},
		engine.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if err = eng.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.New(eng, api.WithLogger(logger)).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.ListenAddr))
		if serveErr := srv.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil {
		logger.Error("http shutdown", slog.String("error", shutErr.Error()))
	}
	if stopErr := eng.Stop(shutdownCtx); stopErr != nil {
		logger.Error("engine shutdown", slog.String("error", stopErr.Error()))
	}

	logger.Info("stopped")
	return nil
}
