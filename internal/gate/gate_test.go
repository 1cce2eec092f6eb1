package gate_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/gate"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type flakyProber struct {
	failures int // number of leading failures before success; -1 fails forever
	calls    atomic.Int64
}

func (p *flakyProber) Probe(_ context.Context) error {
	n := int(p.calls.Add(1))
	if p.failures < 0 || n <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

// --- tests ---

func TestAwaitStorage_ImmediateSuccess(t *testing.T) {
	p := &flakyProber{}
	metrics := observability.NewMetricsForTesting()

	err := gate.AwaitStorage(context.Background(), p, gate.Options{MaxRetries: 12, Delay: 0},
		clockwork.NewFakeClock(), slog.Default(), metrics)

	require.NoError(t, err)
	assert.Equal(t, int64(1), p.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StorageProbeAttempts), 0)
}

func TestAwaitStorage_SucceedsAfterFailures(t *testing.T) {
	p := &flakyProber{failures: 3}

	err := gate.AwaitStorage(context.Background(), p, gate.Options{MaxRetries: 5, Delay: 0},
		clockwork.NewFakeClock(), slog.Default(), observability.NewMetricsForTesting())

	require.NoError(t, err)
	assert.Equal(t, int64(4), p.calls.Load())
}

func TestAwaitStorage_ExhaustionIsFatal(t *testing.T) {
	p := &flakyProber{failures: -1}

	err := gate.AwaitStorage(context.Background(), p, gate.Options{MaxRetries: 3, Delay: 0},
		clockwork.NewFakeClock(), slog.Default(), observability.NewMetricsForTesting())

	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int64(3), p.calls.Load(), "exactly max_retries attempts")
}

func TestAwaitStorage_ZeroRetries(t *testing.T) {
	p := &flakyProber{}

	err := gate.AwaitStorage(context.Background(), p, gate.Options{MaxRetries: 0},
		clockwork.NewFakeClock(), slog.Default(), observability.NewMetricsForTesting())

	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, int64(0), p.calls.Load())
}

func TestAwaitStorage_SleepsBetweenAttempts(t *testing.T) {
	p := &flakyProber{failures: 1}
	clock := clockwork.NewFakeClock()

	done := make(chan error, 1)
	go func() {
		done <- gate.AwaitStorage(context.Background(), p, gate.Options{MaxRetries: 3, Delay: 5 * time.Second},
			clock, slog.Default(), observability.NewMetricsForTesting())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int64(1), p.calls.Load(), "second attempt must wait for the delay")

	clock.Advance(5 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not finish after delay elapsed")
	}
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestAwaitStorage_ContextCancelledDuringSleep(t *testing.T) {
	p := &flakyProber{failures: -1}
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- gate.AwaitStorage(ctx, p, gate.Options{MaxRetries: 10, Delay: time.Minute},
			clock, slog.Default(), observability.NewMetricsForTesting())
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not observe cancellation")
	}
	assert.Equal(t, int64(1), p.calls.Load())
}

type migratingProber struct {
	flakyProber
	migrateErrs int
	migrations  atomic.Int64
}

func (p *migratingProber) Migrate(context.Context) error {
	n := int(p.migrations.Add(1))
	if n <= p.migrateErrs {
		return errors.New("database is locked")
	}
	return nil
}

func TestAwaitStorage_MigratesAfterProbe(t *testing.T) {
	p := &migratingProber{flakyProber: flakyProber{failures: 1}, migrateErrs: 1}

	err := gate.AwaitStorage(context.Background(), p, gate.Options{MaxRetries: 5},
		clockwork.NewFakeClock(), slog.Default(), observability.NewMetricsForTesting())

	require.NoError(t, err)
	assert.Equal(t, int64(3), p.calls.Load(), "probe fails, migrate fails, then both succeed")
	assert.Equal(t, int64(2), p.migrations.Load())
}
