// Package gate blocks process startup until the measurement store accepts
// connections.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Prober opens and immediately closes one storage connection.
type Prober interface {
	Probe(ctx context.Context) error
}

// Migrator is implemented by probers that can also create their schema.
// AwaitStorage migrates once a probe succeeds; a migration failure counts as
// a failed attempt.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Options bounds the retry loop.
type Options struct {
	MaxRetries int
	Delay      time.Duration
}

// AwaitStorage probes the store up to opts.MaxRetries times, sleeping
// opts.Delay between failed attempts. It returns nil on the first successful
// probe and an error wrapping domain.ErrStorageUnavailable once every attempt
// has failed. A cancelled context stops the loop early with ctx.Err().
func AwaitStorage(ctx context.Context, p Prober, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) error {
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		metrics.StorageProbeAttempts.Inc()

		lastErr = p.Probe(ctx)
		if lastErr == nil {
			lastErr = migrate(ctx, p)
		}
		if lastErr == nil {
			logger.Info("storage ready", "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("waiting for storage",
			"attempt", attempt,
			"max_retries", opts.MaxRetries,
			"error", lastErr,
		)

		if attempt == opts.MaxRetries {
			break
		}
		if !sleep(ctx, clock, opts.Delay) {
			return ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no attempts configured")
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrStorageUnavailable, opts.MaxRetries, lastErr)
}

func migrate(ctx context.Context, p Prober) error {
	m, ok := p.(Migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
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
