package analytics_test

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/artifact"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/analytics"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const sensorID = "5e7e9b94946d0c001b6e64b9"

var monday = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

// --- in-memory measurement store ---

type memReader struct {
	mu   sync.Mutex
	rows []domain.Measurement
	err  error
}

func (m *memReader) set(rows []domain.Measurement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

func (m *memReader) RecentMeasurements(_ context.Context, id string, limit int) ([]domain.Measurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Measurement
	for _, r := range m.rows {
		if r.SensorID == id {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memReader) LatestMeasurement(ctx context.Context, id string) (domain.Measurement, bool, error) {
	rows, err := m.RecentMeasurements(ctx, id, 1)
	if err != nil || len(rows) == 0 {
		return domain.Measurement{}, false, err
	}
	return rows[0], true, nil
}

// --- fixtures ---

func hourly(values []float64) []domain.Measurement {
	rows := make([]domain.Measurement, len(values))
	for i, v := range values {
		rows[i] = domain.Measurement{
			Time:       monday.Add(time.Duration(i) * time.Hour),
			SensorID:   sensorID,
			SensorName: "Temperatur",
			Unit:       "°C",
			Value:      v,
		}
	}
	return rows
}

// plateau returns n values alternating base and base+0.05 with one spike.
func plateau(n int, base float64, spikeAt int, spike float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = base + 0.05*float64(i%2)
	}
	if spikeAt >= 0 {
		values[spikeAt] = spike
	}
	return values
}

// seasonal is an exact linear function of the forecast features.
func seasonal(t int, ts time.Time) float64 {
	hour := 2 * math.Pi * float64(ts.Hour()) / 24
	wd := 2 * math.Pi * float64((int(ts.Weekday())+6)%7) / 7
	return 12 + 0.02*float64(t) + 3*math.Sin(hour) - 1.5*math.Cos(hour) + 0.5*math.Sin(wd) + 0.25*math.Cos(wd)
}

type fixture struct {
	reader     *memReader
	store      artifact.Store
	clock      *clockwork.FakeClock
	metrics    *observability.Metrics
	window     *analytics.WindowLoader
	detector   *analytics.Detector
	forecaster *analytics.Forecaster
	dir        string
}

func newFixture(t *testing.T, opts ...analytics.DetectorOption) *fixture {
	t.Helper()
	return newFixtureWithStore(t, artifact.NewFileStore(), opts...)
}

func newFixtureWithStore(t *testing.T, store artifact.Store, opts ...analytics.DetectorOption) *fixture {
	t.Helper()
	f := &fixture{
		reader:  &memReader{},
		store:   store,
		clock:   clockwork.NewFakeClockAt(monday.Add(30 * 24 * time.Hour)),
		metrics: observability.NewMetricsForTesting(),
		dir:     t.TempDir(),
	}
	f.window = analytics.NewWindowLoader(f.reader, sensorID, 10000)
	f.detector = analytics.NewDetector(f.window, store, f.anomalyPath(), f.clock, slog.Default(), f.metrics, opts...)
	f.forecaster = analytics.NewForecaster(f.window, store, f.forecastPath(), f.clock, slog.Default(), f.metrics)
	return f
}

func (f *fixture) anomalyPath() string {
	return filepath.Join(f.dir, "model", "anomaly_iforest.json")
}

func (f *fixture) forecastPath() string {
	return filepath.Join(f.dir, "model", "temp_forecast_lr.json")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
