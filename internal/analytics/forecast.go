package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/artifact"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/ml"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Forecaster fits and applies the linear time-feature model.
type Forecaster struct {
	window  *WindowLoader
	store   artifact.Store
	path    string
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewForecaster creates a Forecaster persisting its model at path.
func NewForecaster(window *WindowLoader, store artifact.Store, path string, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Forecaster {
	return &Forecaster{
		window:  window,
		store:   store,
		path:    path,
		clock:   clock,
		logger:  logger.With("model", "forecast", "sensor_id", window.SensorID()),
		metrics: metrics,
	}
}

// Train fits the model on the current window and overwrites the artifact.
// An empty window is not an error: nothing is written.
func (f *Forecaster) Train(ctx context.Context) error {
	start := f.clock.Now()

	w, err := f.window.Load(ctx)
	if err != nil {
		f.metrics.TrainingRuns.WithLabelValues("forecast", "error").Inc()
		return err
	}
	if len(w) == 0 {
		f.logger.Warn("no data for forecast training")
		f.metrics.TrainingRuns.WithLabelValues("forecast", "empty").Inc()
		return nil
	}

	x := windowFeatures(w)
	y := w.Values()
	model, err := ml.FitLinear(ml.FeatureNames, x, y)
	if err != nil {
		f.metrics.TrainingRuns.WithLabelValues("forecast", "error").Inc()
		return fmt.Errorf("train forecast: %w", err)
	}

	fitted, err := model.Predict(x)
	if err != nil {
		f.metrics.TrainingRuns.WithLabelValues("forecast", "error").Inc()
		return fmt.Errorf("train forecast: %w", err)
	}
	mse := ml.MeanSquaredError(y, fitted)

	id, err := saveModel(ctx, f.store, f.path, kindForecast, len(w), f.clock.Now(), model)
	if err != nil {
		f.metrics.TrainingRuns.WithLabelValues("forecast", "error").Inc()
		return err
	}

	f.metrics.TrainingRuns.WithLabelValues("forecast", "trained").Inc()
	f.metrics.TrainingDuration.WithLabelValues("forecast").Observe(f.clock.Since(start).Seconds())
	f.metrics.ForecastMSE.Set(mse)
	f.logger.Info("forecast model trained",
		"samples", len(w),
		"mse", mse,
		"artifact_id", id,
		"path", f.path,
	)
	return nil
}

// Predict returns hours hourly points following the last stored measurement,
// in increasing time order. It fails with domain.ErrModelNotFound before the
// first training run.
func (f *Forecaster) Predict(ctx context.Context, hours int) ([]domain.ForecastPoint, error) {
	if hours < 0 {
		return nil, fmt.Errorf("forecast hours must be non-negative, got %d", hours)
	}

	var model ml.LinearModel
	if _, err := loadModel(ctx, f.store, f.path, kindForecast, &model); err != nil {
		return nil, err
	}
	if err := model.CheckSchema(ml.FeatureNames); err != nil {
		return nil, &domain.ArtifactError{Path: f.path, Err: err}
	}

	w, err := f.window.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(w) == 0 || hours == 0 {
		return []domain.ForecastPoint{}, nil
	}

	lastT := len(w) - 1
	lastTime := w.Last().Time
	times := make([]time.Time, hours)
	x := make([][]float64, hours)
	for i := range hours {
		ts := lastTime.Add(time.Duration(i+1) * time.Hour)
		times[i] = ts
		x[i] = ml.TimeFeatures(lastT+i+1, ts)
	}

	predicted, err := model.Predict(x)
	if err != nil {
		return nil, &domain.ArtifactError{Path: f.path, Err: err}
	}

	out := make([]domain.ForecastPoint, hours)
	for i := range out {
		out[i] = domain.ForecastPoint{Time: times[i], Predicted: predicted[i]}
	}
	return out, nil
}

// windowFeatures assigns the sequential index t over the window and derives
// the cyclical features from each timestamp.
func windowFeatures(w domain.TrainingWindow) [][]float64 {
	x := make([][]float64, len(w))
	for i, m := range w {
		x[i] = ml.TimeFeatures(i, m.Time)
	}
	return x
}
