package opensensemap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBoxID         = "5e7e9b94946d0c001b6e64b4"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string) *Client {
	return NewClient(Options{
		BaseURL:        baseURL,
		BoxID:          testBoxID,
		Timeout:        5 * time.Second,
		HistoryTimeout: 5 * time.Second,
	}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const boxJSON = `{
  "_id": "5e7e9b94946d0c001b6e64b4",
  "sensors": [
    {"_id": "s-temp", "title": "Temperatur", "unit": "°C",
     "lastMeasurement": {"createdAt": "2024-05-01T12:00:00.000Z", "value": "21.37"}},
    {"_id": "s-hum", "title": "rel. Luftfeuchte", "unit": "%",
     "lastMeasurement": {"createdAt": "2024-05-01T12:00:01.000Z", "value": "48"}},
    {"_id": "s-pm25", "title": "PM2.5", "unit": "µg/m³",
     "lastMeasurement": {"createdAt": "2024-05-01T11:59:58.000Z", "value": 3.5}}
  ]
}`

func TestClient_FetchLatest_OnePerSensor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/boxes/"+testBoxID, r.URL.Path)
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(boxJSON))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	rows, err := c.FetchLatest(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "s-temp", rows[0].SensorID)
	assert.Equal(t, "Temperatur", rows[0].SensorName)
	assert.Equal(t, "°C", rows[0].Unit)
	assert.InDelta(t, 21.37, rows[0].Value, 1e-9)
	assert.Equal(t, time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC), rows[0].Time)
	assert.Equal(t, time.UTC, rows[0].Time.Location())

	assert.InDelta(t, 48.0, rows[1].Value, 1e-9)
	assert.InDelta(t, 3.5, rows[2].Value, 1e-9)

	assert.InDelta(t, 1.0, testutil.ToFloat64(c.metrics.APIRequests.WithLabelValues("box", "success")), 1e-9)
}

func TestClient_FetchLatest_SkipsSensorsWithoutMeasurement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"sensors": [
			{"_id": "a", "title": "A", "unit": "x", "lastMeasurement": {"createdAt": "2024-05-01T12:00:00Z", "value": "1"}},
			{"_id": "b", "title": "B", "unit": "x"},
			{"_id": "c", "title": "C", "unit": "x", "lastMeasurement": null},
			{"_id": "d", "title": "D", "unit": "x", "lastMeasurement": {"createdAt": "garbage", "value": "1"}}
		]}`))
	}))
	defer srv.Close()

	rows, err := testClient(srv.URL).FetchLatest(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].SensorID)
}

func TestClient_FetchBox_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"NotFound","message":"Box not found"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchBox(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.metrics.APIRequests.WithLabelValues("box", "error")), 1e-9)
}

func TestClient_FetchBox_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.FetchBox(context.Background())
	require.Error(t, err)
}

func TestClient_FetchHistorical_SkipsFailingSensor(t *testing.T) {
	var mu sync.Mutex
	attempted := map[string]bool{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		sensorID := parts[len(parts)-1]
		mu.Lock()
		attempted[sensorID] = true
		mu.Unlock()

		assert.Equal(t, "2024-04-17T12:00:00.000Z", r.URL.Query().Get("from-date"))
		assert.Equal(t, "2024-05-01T12:00:00.000Z", r.URL.Query().Get("to-date"))
		assert.Equal(t, "false", r.URL.Query().Get("download"))

		if sensorID == "s-broken" {
			// Drop the connection to simulate a network failure.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`[
			{"createdAt": "2024-05-01T11:00:00.000Z", "value": "1.5"},
			{"createdAt": "2024-05-01T10:00:00.000Z", "value": "1.0"}
		]`))
	}))
	defer srv.Close()

	sensors := []domain.SensorMeta{
		{ID: "s-temp", Title: "Temperatur", Unit: "°C"},
		{ID: "s-broken", Title: "Broken", Unit: "?"},
		{ID: "s-hum", Title: "Humidity", Unit: "%"},
	}
	to := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -14)

	rows := testClient(srv.URL).FetchHistorical(context.Background(), sensors, from, to)

	assert.Equal(t, map[string]bool{"s-temp": true, "s-broken": true, "s-hum": true}, attempted)
	require.Len(t, rows, 4)
	bySensor := map[string]int{}
	for _, r := range rows {
		bySensor[r.SensorID]++
		assert.Equal(t, time.UTC, r.Time.Location())
	}
	assert.Equal(t, map[string]int{"s-temp": 2, "s-hum": 2}, bySensor)
	assert.Equal(t, "Humidity", rows[2].SensorName)
}

func TestClient_FetchHistorical_SkipsMalformedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`[
			{"createdAt": "2024-05-01T11:50:00.000Z", "value": "oops"},
			{"createdAt": "2024-05-01T11:40:00.000Z", "value": "NaN"},
			{"createdAt": "2024-05-01T11:30:00.000Z", "value": "Infinity"},
			{"createdAt": "2024-05-01T11:20:00.000Z", "value": "-Inf"},
			{"createdAt": "2024-05-01T11:10:00.000Z", "value": "2"}
		]`))
	}))
	defer srv.Close()

	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	rows := testClient(srv.URL).FetchHistorical(context.Background(),
		[]domain.SensorMeta{{ID: "s", Title: "S", Unit: "u"}}, now.Add(-time.Hour), now)
	require.Len(t, rows, 1)
	assert.InDelta(t, 2.0, rows[0].Value, 1e-9)
}

func TestClient_FetchHistorical_HalfOpenWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`[
			{"createdAt": "2024-05-01T12:00:00.000Z", "value": "4"},
			{"createdAt": "2024-05-01T11:59:59.999Z", "value": "3"},
			{"createdAt": "2024-05-01T11:00:00.000Z", "value": "2"},
			{"createdAt": "2024-05-01T10:59:59.000Z", "value": "1"}
		]`))
	}))
	defer srv.Close()

	to := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	rows := testClient(srv.URL).FetchHistorical(context.Background(),
		[]domain.SensorMeta{{ID: "s", Title: "S", Unit: "u"}}, to.Add(-time.Hour), to)

	require.Len(t, rows, 2, "from is inclusive, to is exclusive")
	assert.InDelta(t, 3.0, rows[0].Value, 1e-9)
	assert.InDelta(t, 2.0, rows[1].Value, 1e-9)
}

func TestClient_RateLimiterHonorsContext(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:1", BoxID: testBoxID, Timeout: time.Second, RatePerSecond: 0.001},
		observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	// The first request consumes the only token.
	_, _ = c.FetchBox(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchBox(ctx)
	require.Error(t, err)
}
