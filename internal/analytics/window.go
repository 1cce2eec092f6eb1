package analytics

import (
	"context"
	"fmt"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
)

// MeasurementReader is the read side of the measurement store.
type MeasurementReader interface {
	RecentMeasurements(ctx context.Context, sensorID string, limit int) ([]domain.Measurement, error)
	LatestMeasurement(ctx context.Context, sensorID string) (domain.Measurement, bool, error)
}

// WindowLoader reads the training window for one sensor.
type WindowLoader struct {
	store    MeasurementReader
	sensorID string
	limit    int
}

// NewWindowLoader creates a loader bounded to the limit most recent rows.
func NewWindowLoader(store MeasurementReader, sensorID string, limit int) *WindowLoader {
	return &WindowLoader{store: store, sensorID: sensorID, limit: limit}
}

// SensorID returns the focused sensor.
func (l *WindowLoader) SensorID() string { return l.sensorID }

// Load returns up to limit most recent measurements in ascending time order.
// Rows holding NaN or an infinity are dropped.
func (l *WindowLoader) Load(ctx context.Context) (domain.TrainingWindow, error) {
	rows, err := l.store.RecentMeasurements(ctx, l.sensorID, l.limit)
	if err != nil {
		return nil, fmt.Errorf("load training window: %w", err)
	}
	return domain.TrainingWindow(finiteRows(rows)), nil
}

// finiteRows filters rows in place, keeping order.
func finiteRows(rows []domain.Measurement) []domain.Measurement {
	out := rows[:0]
	for _, m := range rows {
		if domain.IsFinite(m.Value) {
			out = append(out, m)
		}
	}
	return out
}

// Latest returns the most recent measurement, if any.
func (l *WindowLoader) Latest(ctx context.Context) (domain.Measurement, bool, error) {
	m, ok, err := l.store.LatestMeasurement(ctx, l.sensorID)
	if err != nil {
		return domain.Measurement{}, false, fmt.Errorf("load latest measurement: %w", err)
	}
	return m, ok, nil
}
