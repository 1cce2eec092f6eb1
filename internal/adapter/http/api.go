package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
)

const (
	defaultMeasurementLimit = 1000
	maxMeasurementLimit     = 10000
	maxForecastHours        = 24 * 14
)

// SensorReader is the read side of the measurement store.
type SensorReader interface {
	Sensors(ctx context.Context) ([]domain.SensorInfo, error)
	RecentMeasurements(ctx context.Context, sensorID string, limit int) ([]domain.Measurement, error)
}

// Forecaster predicts future values for the focused sensor.
type Forecaster interface {
	Predict(ctx context.Context, hours int) ([]domain.ForecastPoint, error)
}

// AnomalyFinder classifies the focused sensor's recent readings.
type AnomalyFinder interface {
	SensorID() string
	Anomalies(ctx context.Context, limit int) ([]domain.Measurement, error)
}

// API serves stored measurements and model output to dashboard clients.
type API struct {
	store        SensorReader
	forecaster   Forecaster
	anomalies    AnomalyFinder
	defaultHours int
	logger       *slog.Logger
}

// NewAPI creates the consumer API. defaultHours is the forecast horizon
// used when the request omits ?hours.
func NewAPI(store SensorReader, f Forecaster, a AnomalyFinder, defaultHours int, logger *slog.Logger) *API {
	return &API{
		store:        store,
		forecaster:   f,
		anomalies:    a,
		defaultHours: defaultHours,
		logger:       logger,
	}
}

type forecastResponse struct {
	SensorID string                 `json:"sensor_id"`
	Hours    int                    `json:"hours"`
	Points   []domain.ForecastPoint `json:"points"`
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sensors", a.handleSensors)
	mux.HandleFunc("GET /api/v1/sensors/{id}/measurements", a.handleMeasurements)
	mux.HandleFunc("GET /api/v1/sensors/{id}/anomalies", a.handleAnomalies)
	mux.HandleFunc("GET /api/v1/forecast", a.handleForecast)
}

func (a *API) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := a.store.Sensors(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if sensors == nil {
		sensors = []domain.SensorInfo{}
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (a *API) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultMeasurementLimit, 1, maxMeasurementLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	rows, err := a.store.RecentMeasurements(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.Measurement{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") != a.anomalies.SensorID() {
		writeJSON(w, http.StatusNotFound, errorBody("no anomaly model for sensor"))
		return
	}
	limit, err := queryInt(r, "limit", defaultMeasurementLimit, 1, maxMeasurementLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	rows, err := a.anomalies.Anomalies(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleForecast(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", a.defaultHours, 1, maxForecastHours)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	points, err := a.forecaster.Predict(r.Context(), hours)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecastResponse{
		SensorID: a.anomalies.SensorID(),
		Hours:    hours,
		Points:   points,
	})
}

// writeError maps domain errors to status codes. A missing model is a 404 so
// clients can drop the overlay instead of failing the whole view.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrModelNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody(domain.ErrModelNotFound.Error()))
		return
	}

	var artErr *domain.ArtifactError
	if errors.As(err, &artErr) {
		a.logger.Error("unusable model artifact", "path", artErr.Path, "error", artErr.Err, "route", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody("model artifact unusable"))
		return
	}

	a.logger.Error("api request failed", "error", err, "route", r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}

func queryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, lo, hi)
	}
	return v, nil
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
