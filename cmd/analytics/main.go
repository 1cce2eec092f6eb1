// Command analytics trains the forecast and anomaly models for one sensor at
// startup, classifies its latest reading on a fixed cadence, and serves the
// read-only consumer API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/artifact"
	httpadapter "github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/kafka"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/sqlstore"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/analytics"
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

	if cfg.SensorID == "" {
		logger.Error("failed to start analytics", "error", domain.ErrNoSensor)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return exitConfig
	}
	defer store.Close()

	clock := clockwork.NewRealClock()

	models, closeModels, err := newArtifactStore(ctx, cfg, clock, logger)
	if err != nil {
		logger.Error("failed to open model store", "error", err)
		return exitConfig
	}
	defer closeModels()

	var detectorOpts []analytics.DetectorOption
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		detectorOpts = append(detectorOpts, analytics.WithPublisher(writer))
		logger.Info("detection publishing enabled", "topic", cfg.KafkaDetectionsTopic)
	}

	window := analytics.NewWindowLoader(store, cfg.SensorID, cfg.TrainLimit)
	detector := analytics.NewDetector(window, models, cfg.AnomalyModelPath, clock, logger, metrics, detectorOpts...)
	forecaster := analytics.NewForecaster(window, models, cfg.ForecastModelPath, clock, logger, metrics)
	runner := analytics.NewRunner(detector, forecaster, store,
		gate.Options{MaxRetries: cfg.DBMaxRetries, Delay: cfg.DBRetryDelay},
		cfg.DetectInterval, clock, logger, metrics)

	api := httpadapter.NewAPI(store, forecaster, detector, cfg.ForecastHours, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, logger, httpadapter.WithAPI(api))

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	err = runner.Run(ctx)
	if err != nil {
		logger.Error("analytics stopped", "error", err)
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

// newArtifactStore selects the model backend and wraps it in the TTL cache
// when MODEL_CACHE_TTL is set.
func newArtifactStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (artifact.Store, func(), error) {
	var (
		store   artifact.Store
		closeFn = func() {}
	)

	switch cfg.ModelStore {
	case "redis":
		rs, err := artifact.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		store = rs
		closeFn = func() {
			if err := rs.Close(); err != nil {
				logger.Error("redis close error", "error", err)
			}
		}
		logger.Info("model store: redis", "addr", cfg.RedisAddr)
	default:
		store = artifact.NewFileStore()
		logger.Info("model store: file", "anomaly_path", cfg.AnomalyModelPath, "forecast_path", cfg.ForecastModelPath)
	}

	if cfg.ModelCacheTTL > 0 {
		store = artifact.NewCachedStore(store, cfg.ModelCacheTTL, 4, clock)
		logger.Info("model cache enabled", "ttl", cfg.ModelCacheTTL)
	}
	return store, closeFn, nil
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
