// Command collector ingests openSenseMap readings for one box into the
// measurement store: a one-time historical backfill, then live polling.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/http"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/opensensemap"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/sqlstore"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/collector"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/config"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/gate"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	exitConfig             = 1
	exitStorageUnavailable = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitConfig
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return exitConfig
	}
	defer store.Close()

	client := opensensemap.NewClient(opensensemap.Options{
		BaseURL:        cfg.APIBaseURL,
		BoxID:          cfg.BoxID,
		Timeout:        cfg.APITimeout,
		HistoryTimeout: cfg.HistoryTimeout,
		RatePerSecond:  cfg.APIRateLimit,
	}, metrics, logger)

	svc := collector.New(client, store, store, collector.Options{
		Gate:         gate.Options{MaxRetries: cfg.DBMaxRetries, Delay: cfg.DBRetryDelay},
		PollInterval: cfg.PollInterval,
		RunHistoric:  cfg.RunHistoric,
		BackfillDays: cfg.BackfillDays,
	}, clockwork.NewRealClock(), logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("collector configured",
		"box_id", cfg.BoxID,
		"poll_interval", cfg.PollInterval,
		"run_historic", cfg.RunHistoric,
		"db_driver", cfg.DBDriver,
	)

	err = svc.Run(ctx)
	if err != nil {
		logger.Error("collector stopped", "error", err)
	}
	code := exitCode(err)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return code
}

// exitCode maps a terminal run error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrStorageUnavailable):
		return exitStorageUnavailable
	default:
		return exitConfig
	}
}
