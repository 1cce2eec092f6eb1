// Package collector runs the ingestion process: wait for storage, backfill a
// fixed lookback window once, then poll the box's latest readings forever.
package collector

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

// Fetcher reads measurements from the upstream sensor API.
type Fetcher interface {
	FetchBox(ctx context.Context) (domain.SensorBox, error)
	FetchLatest(ctx context.Context) ([]domain.Measurement, error)
	FetchHistorical(ctx context.Context, sensors []domain.SensorMeta, from, to time.Time) []domain.Measurement
}

// Inserter appends measurements to the store.
type Inserter interface {
	InsertMeasurements(ctx context.Context, rows []domain.Measurement) error
}

// Options controls startup and polling.
type Options struct {
	Gate         gate.Options
	PollInterval time.Duration
	RunHistoric  bool
	BackfillDays int
}

// Service orchestrates the storage gate, backfill, and live poll loop.
type Service struct {
	fetcher Fetcher
	store   Inserter
	prober  gate.Prober
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New creates a Service.
func New(f Fetcher, store Inserter, prober gate.Prober, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		fetcher: f,
		store:   store,
		prober:  prober,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a live poll cycle has stored its rows.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("collector has not completed a poll cycle yet")
	}
	return nil
}

// Run blocks until ctx is cancelled. It returns an error wrapping
// domain.ErrStorageUnavailable when the storage gate is exhausted, in which
// case nothing is fetched.
func (s *Service) Run(ctx context.Context) error {
	if err := gate.AwaitStorage(ctx, s.prober, s.opts.Gate, s.clock, s.logger, s.metrics); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if s.opts.RunHistoric {
		s.backfill(ctx)
	} else {
		s.logger.Info("historical backfill disabled")
	}

	s.logger.Info("collector started", "poll_interval", s.opts.PollInterval)
	s.metrics.CollectorRunning.Set(1)
	defer s.metrics.CollectorRunning.Set(0)

	for {
		if ctx.Err() != nil {
			s.logger.Info("collector stopping", "reason", ctx.Err())
			return nil
		}

		s.pollOnce(ctx)

		if !sleepWithContext(ctx, s.clock, s.opts.PollInterval) {
			s.logger.Info("collector stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// backfill loads the lookback window for every sensor on the box. Failures
// are logged and the live loop starts regardless.
func (s *Service) backfill(ctx context.Context) {
	box, err := s.fetcher.FetchBox(ctx)
	if err != nil {
		s.logger.Error("backfill: fetch box failed, skipping", "error", err)
		return
	}

	to := s.clock.Now().UTC()
	from := to.AddDate(0, 0, -s.opts.BackfillDays)
	s.logger.Info("backfill started",
		"sensors", len(box.Sensors),
		"from", domain.FormatAPITime(from),
		"to", domain.FormatAPITime(to),
	)

	rows := s.fetcher.FetchHistorical(ctx, box.Sensors, from, to)
	if len(rows) == 0 {
		s.logger.Info("backfill: no historical data")
		return
	}
	if err := s.store.InsertMeasurements(ctx, rows); err != nil {
		s.logger.Error("backfill: insert failed", "error", err, "rows", len(rows))
		return
	}
	s.metrics.MeasurementsIngested.WithLabelValues("historical").Add(float64(len(rows)))
	s.logger.Info("backfill complete", "rows", len(rows))
}

// pollOnce runs one live iteration. Errors never escape; the next cycle
// simply tries again.
func (s *Service) pollOnce(ctx context.Context) {
	s.metrics.PollCycles.Inc()

	rows, err := s.fetcher.FetchLatest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.PollFailures.Inc()
		s.logger.Error("poll: fetch latest failed", "error", err)
		return
	}

	if len(rows) > 0 {
		if err := s.store.InsertMeasurements(ctx, rows); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.PollFailures.Inc()
			s.logger.Error("poll: insert failed", "error", err, "rows", len(rows))
			return
		}
		s.metrics.MeasurementsIngested.WithLabelValues("latest").Add(float64(len(rows)))
	}

	s.ready.Store(true)
	s.logger.Debug("poll: stored latest", "rows", len(rows))
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
