package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/gate"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Runner drives the analytics process: storage gate, one training pass
// (anomaly, then forecast), then periodic detection of the latest reading.
// Models are not retrained after startup.
type Runner struct {
	detector   *Detector
	forecaster *Forecaster
	prober     gate.Prober
	gateOpts   gate.Options
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// NewRunner creates a Runner that detects every interval.
func NewRunner(d *Detector, f *Forecaster, prober gate.Prober, gateOpts gate.Options, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		detector:   d,
		forecaster: f,
		prober:     prober,
		gateOpts:   gateOpts,
		interval:   interval,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once the startup training pass has finished.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("analytics has not finished startup training")
	}
	return nil
}

// Run blocks until ctx is cancelled. Only storage gate exhaustion is
// returned as an error.
func (r *Runner) Run(ctx context.Context) error {
	if err := gate.AwaitStorage(ctx, r.prober, r.gateOpts, r.clock, r.logger, r.metrics); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := r.detector.Train(ctx); err != nil {
		r.logger.Error("anomaly training failed", "error", err)
	}
	if err := r.forecaster.Train(ctx); err != nil {
		r.logger.Error("forecast training failed", "error", err)
	}
	r.ready.Store(true)

	r.logger.Info("detection loop started", "interval", r.interval)
	for {
		if ctx.Err() != nil {
			r.logger.Info("detection loop stopping", "reason", ctx.Err())
			return nil
		}

		r.detectOnce(ctx)

		if !sleepWithContext(ctx, r.clock, r.interval) {
			r.logger.Info("detection loop stopping", "reason", ctx.Err())
			return nil
		}
	}
}

func (r *Runner) detectOnce(ctx context.Context) {
	_, _, err := r.detector.DetectLatest(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
	case errors.Is(err, domain.ErrModelNotFound):
		r.logger.Warn("no anomaly model yet, skipping detection")
	default:
		r.metrics.DetectionErrors.Inc()
		r.logger.Error("detection failed", "error", err)
	}
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
