package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/artifact"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/ml"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Publisher receives each detection result. Implementations must not block
// detection on downstream outages.
type Publisher interface {
	PublishDetection(ctx context.Context, d domain.Detection) error
}

// Detector fits the isolation forest and classifies readings.
type Detector struct {
	window    *WindowLoader
	store     artifact.Store
	path      string
	params    ml.ForestParams
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithPublisher forwards every detection to p.
func WithPublisher(p Publisher) DetectorOption {
	return func(d *Detector) { d.publisher = p }
}

// WithForestParams overrides the forest hyperparameters.
func WithForestParams(params ml.ForestParams) DetectorOption {
	return func(d *Detector) { d.params = params }
}

// NewDetector creates a Detector persisting its model at path.
func NewDetector(window *WindowLoader, store artifact.Store, path string, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts ...DetectorOption) *Detector {
	d := &Detector{
		window:  window,
		store:   store,
		path:    path,
		params:  ml.DefaultForestParams(),
		clock:   clock,
		logger:  logger.With("model", "anomaly", "sensor_id", window.SensorID()),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SensorID returns the sensor this detector is trained on.
func (d *Detector) SensorID() string { return d.window.SensorID() }

// Train fits the forest on the window's values and overwrites the artifact.
// An empty window is not an error: nothing is written.
func (d *Detector) Train(ctx context.Context) error {
	start := d.clock.Now()

	w, err := d.window.Load(ctx)
	if err != nil {
		d.metrics.TrainingRuns.WithLabelValues("anomaly", "error").Inc()
		return err
	}
	if len(w) == 0 {
		d.logger.Warn("no data for anomaly training")
		d.metrics.TrainingRuns.WithLabelValues("anomaly", "empty").Inc()
		return nil
	}

	data := ml.Column(w.Values())
	forest, err := ml.FitForest(data, d.params)
	if err != nil {
		d.metrics.TrainingRuns.WithLabelValues("anomaly", "error").Inc()
		return fmt.Errorf("train anomaly: %w", err)
	}

	labels, err := forest.Predict(data)
	if err != nil {
		d.metrics.TrainingRuns.WithLabelValues("anomaly", "error").Inc()
		return fmt.Errorf("train anomaly: %w", err)
	}
	outliers := 0
	for _, l := range labels {
		if domain.Label(l) == domain.LabelAnomaly {
			outliers++
		}
	}

	id, err := saveModel(ctx, d.store, d.path, kindAnomaly, len(w), d.clock.Now(), forest)
	if err != nil {
		d.metrics.TrainingRuns.WithLabelValues("anomaly", "error").Inc()
		return err
	}

	d.metrics.TrainingRuns.WithLabelValues("anomaly", "trained").Inc()
	d.metrics.TrainingDuration.WithLabelValues("anomaly").Observe(d.clock.Since(start).Seconds())
	d.metrics.TrainingOutliers.Set(float64(outliers))
	d.logger.Info("anomaly model trained",
		"samples", len(w),
		"outliers", outliers,
		"artifact_id", id,
		"path", d.path,
	)
	return nil
}

// Classify labels each value: domain.LabelAnomaly or domain.LabelNormal.
// The model is loaded fresh from the store on every call.
func (d *Detector) Classify(ctx context.Context, values []float64) ([]domain.Label, error) {
	var forest ml.IsolationForest
	if _, err := loadModel(ctx, d.store, d.path, kindAnomaly, &forest); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []domain.Label{}, nil
	}

	raw, err := forest.Predict(ml.Column(values))
	if err != nil {
		return nil, &domain.ArtifactError{Path: d.path, Err: err}
	}
	labels := make([]domain.Label, len(raw))
	for i, l := range raw {
		labels[i] = domain.Label(l)
	}
	return labels, nil
}

// DetectLatest classifies the most recent stored reading. It reports false
// when the sensor has no measurements yet or the latest value is not finite.
func (d *Detector) DetectLatest(ctx context.Context) (domain.Detection, bool, error) {
	m, ok, err := d.window.Latest(ctx)
	if err != nil {
		return domain.Detection{}, false, err
	}
	if !ok {
		d.logger.Info("no measurement to classify yet")
		return domain.Detection{}, false, nil
	}
	if !domain.IsFinite(m.Value) {
		d.logger.Warn("latest measurement is not a finite value, skipping", "value", m.Value, "time", domain.FormatAPITime(m.Time))
		return domain.Detection{}, false, nil
	}

	labels, err := d.Classify(ctx, []float64{m.Value})
	if err != nil {
		return domain.Detection{}, false, err
	}

	det := domain.Detection{SensorID: m.SensorID, Time: m.Time, Value: m.Value, Label: labels[0]}
	d.metrics.Detections.WithLabelValues(det.Label.String()).Inc()
	if det.Label == domain.LabelAnomaly {
		d.logger.Warn("anomaly detected", "value", det.Value, "time", domain.FormatAPITime(det.Time))
	} else {
		d.logger.Info("reading normal", "value", det.Value, "time", domain.FormatAPITime(det.Time))
	}

	if d.publisher != nil {
		if err := d.publisher.PublishDetection(ctx, det); err != nil {
			d.logger.Warn("publish detection failed", "error", err)
		}
	}
	return det, true, nil
}

// Anomalies classifies the recent window and returns the rows labeled
// anomalous, oldest first.
func (d *Detector) Anomalies(ctx context.Context, limit int) ([]domain.Measurement, error) {
	rows, err := d.window.store.RecentMeasurements(ctx, d.window.sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent measurements: %w", err)
	}
	rows = finiteRows(rows)
	labels, err := d.Classify(ctx, domain.TrainingWindow(rows).Values())
	if err != nil {
		return nil, err
	}

	out := make([]domain.Measurement, 0)
	for i, l := range labels {
		if l == domain.LabelAnomaly {
			out = append(out, rows[i])
		}
	}
	return out, nil
}
