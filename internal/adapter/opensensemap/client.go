package opensensemap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/observability"
	"golang.org/x/time/rate"
)

// Client reads box metadata and measurements from the openSenseMap API.
type Client struct {
	boxID         string
	baseURL       string
	httpClient    *http.Client
	historyClient *http.Client
	limiter       *rate.Limiter
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	BoxID          string
	Timeout        time.Duration
	HistoryTimeout time.Duration
	RatePerSecond  float64
}

// NewClient creates an openSenseMap client for one box.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Client{
		boxID:         opts.BoxID,
		baseURL:       opts.BaseURL,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		historyClient: &http.Client{Timeout: opts.HistoryTimeout},
		limiter:       rate.NewLimiter(limit, 1),
		metrics:       metrics,
		logger:        logger,
	}
}

// FetchBox returns the box and its sensors. Errors are returned to the caller.
func (c *Client) FetchBox(ctx context.Context) (domain.SensorBox, error) {
	u := fmt.Sprintf("%s/boxes/%s", c.baseURL, url.PathEscape(c.boxID))

	var resp boxResponse
	if err := c.getJSON(ctx, c.httpClient, u, "box", &resp); err != nil {
		return domain.SensorBox{}, err
	}

	box := domain.SensorBox{ID: c.boxID, Sensors: make([]domain.SensorMeta, 0, len(resp.Sensors))}
	for _, s := range resp.Sensors {
		meta := domain.SensorMeta{ID: s.ID, Title: s.Title, Unit: s.Unit}
		if s.LastMeasurement != nil {
			m, err := toMeasurement(s.LastMeasurement.CreatedAt, s.LastMeasurement.Value, meta)
			if err != nil {
				c.logger.Warn("skipping malformed last measurement", "sensor_id", s.ID, "error", err)
			} else {
				meta.LastMeasurement = &m
			}
		}
		box.Sensors = append(box.Sensors, meta)
	}
	return box, nil
}

// FetchLatest returns the last measurement of every sensor that has one.
func (c *Client) FetchLatest(ctx context.Context) ([]domain.Measurement, error) {
	box, err := c.FetchBox(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.Measurement, 0, len(box.Sensors))
	for _, s := range box.Sensors {
		if s.LastMeasurement == nil {
			continue
		}
		rows = append(rows, *s.LastMeasurement)
	}
	return rows, nil
}

// FetchHistorical returns each sensor's measurements in [from, to). A failing
// sensor is logged and skipped so the remaining sensors still contribute.
func (c *Client) FetchHistorical(ctx context.Context, sensors []domain.SensorMeta, from, to time.Time) []domain.Measurement {
	var rows []domain.Measurement
	for _, s := range sensors {
		c.logger.Info("fetching sensor history", "sensor_id", s.ID, "title", s.Title)
		got, err := c.fetchSensorHistory(ctx, s, from, to)
		if err != nil {
			c.logger.Error("sensor history fetch failed", "sensor_id", s.ID, "error", err)
			continue
		}
		rows = append(rows, got...)
	}
	return rows
}

func (c *Client) fetchSensorHistory(ctx context.Context, s domain.SensorMeta, from, to time.Time) ([]domain.Measurement, error) {
	params := url.Values{
		"from-date": {domain.FormatAPITime(from)},
		"to-date":   {domain.FormatAPITime(to)},
		"download":  {"false"},
	}
	u := fmt.Sprintf("%s/boxes/%s/data/%s?%s", c.baseURL, url.PathEscape(c.boxID), url.PathEscape(s.ID), params.Encode())

	var entries []measurementJSON
	if err := c.getJSON(ctx, c.historyClient, u, "data", &entries); err != nil {
		return nil, err
	}

	rows := make([]domain.Measurement, 0, len(entries))
	for _, e := range entries {
		m, err := toMeasurement(e.CreatedAt, e.Value, s)
		if err != nil {
			c.logger.Warn("skipping malformed measurement", "sensor_id", s.ID, "error", err)
			continue
		}
		// The API treats to-date as inclusive; keep [from, to) so the first
		// live poll does not repeat the last backfilled reading.
		if m.Time.Before(from) || !m.Time.Before(to) {
			continue
		}
		rows = append(rows, m)
	}
	return rows, nil
}

func (c *Client) getJSON(ctx context.Context, hc *http.Client, fullURL, endpoint string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}

	start := time.Now()
	err := c.doJSON(ctx, hc, fullURL, endpoint, dst)
	c.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.APIRequests.WithLabelValues(endpoint, outcome).Inc()
	return err
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, fullURL, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensensemap API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// toMeasurement normalizes one API record into a stored row.
func toMeasurement(createdAt string, value any, s domain.SensorMeta) (domain.Measurement, error) {
	ts, err := domain.ParseAPITime(createdAt)
	if err != nil {
		return domain.Measurement{}, err
	}
	v, err := domain.ParseValue(value)
	if err != nil {
		return domain.Measurement{}, err
	}
	return domain.Measurement{
		Time:       ts,
		SensorID:   s.ID,
		SensorName: s.Title,
		Unit:       s.Unit,
		Value:      v,
	}, nil
}

// openSenseMap API response types.

type boxResponse struct {
	Sensors []sensorJSON `json:"sensors"`
}

type sensorJSON struct {
	ID              string           `json:"_id"`
	Title           string           `json:"title"`
	Unit            string           `json:"unit"`
	LastMeasurement *measurementJSON `json:"lastMeasurement"`
}

type measurementJSON struct {
	CreatedAt string `json:"createdAt"`
	Value     any    `json:"value"`
}
