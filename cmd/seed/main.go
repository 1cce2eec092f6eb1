// Command seed writes a synthetic hourly series for one sensor into the
// measurement store, so the analytics process can train and detect without
// the remote API. The series follows a daily temperature cycle with small
// noise and an optional spike.
//
// Usage:
//
//	go run ./cmd/seed \
//	  -driver sqlite -dsn sensebox.db \
//	  -sensor 5e7e9b94946d0c001b6e64b9 -hours 336 -spike-at 300 -spike 45 \
//	  -json-out data/mock/seed.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/sqlstore"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
)

type series struct {
	sensorID string
	name     string
	unit     string
	end      time.Time
	hours    int
	base     float64
	swing    float64
	noise    float64
	spikeAt  int
	spike    float64
	seed     uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	driver := flag.String("driver", "sqlite", "store driver: sqlite or postgres")
	dsn := flag.String("dsn", "sensebox.db", "store DSN")
	jsonOut := flag.String("json-out", "", "optional path to also write the series as a JSON fixture")
	end := flag.String("end", "", "timestamp of the last reading, ISO-8601 (default: now, truncated to the hour)")

	s := series{}
	flag.StringVar(&s.sensorID, "sensor", "", "sensor ID to write")
	flag.StringVar(&s.name, "name", "Temperatur", "sensor title")
	flag.StringVar(&s.unit, "unit", "°C", "sensor unit")
	flag.IntVar(&s.hours, "hours", 14*24, "number of hourly readings")
	flag.Float64Var(&s.base, "base", 12, "mean value")
	flag.Float64Var(&s.swing, "swing", 5, "amplitude of the daily cycle")
	flag.Float64Var(&s.noise, "noise", 0.3, "uniform noise amplitude")
	flag.IntVar(&s.spikeAt, "spike-at", -1, "index of the spike reading, -1 for none")
	flag.Float64Var(&s.spike, "spike", 45, "spike value")
	flag.Uint64Var(&s.seed, "seed", 1, "noise seed")
	flag.Parse()

	if err := s.validate(); err != nil {
		flag.Usage()
		return err
	}

	s.end = time.Now().UTC().Truncate(time.Hour)
	if *end != "" {
		t, err := domain.ParseAPITime(*end)
		if err != nil {
			return fmt.Errorf("parse -end: %w", err)
		}
		s.end = t
	}

	rows := generate(s)
	log.Printf("generated %d readings for %s (%s .. %s)", len(rows), s.sensorID,
		domain.FormatAPITime(rows[0].Time), domain.FormatAPITime(rows[len(rows)-1].Time))

	ctx := context.Background()
	store, err := sqlstore.Open(*driver, *dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := store.InsertMeasurements(ctx, rows); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	log.Printf("wrote %d rows to %s store", len(rows), *driver)

	if *jsonOut != "" {
		if err := writeJSON(*jsonOut, rows); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *jsonOut)
	}
	return nil
}

func (s series) validate() error {
	if s.sensorID == "" || s.hours <= 0 {
		return fmt.Errorf("missing required flags: -sensor and a positive -hours")
	}
	if s.spikeAt < -1 || s.spikeAt >= s.hours {
		return fmt.Errorf("-spike-at must be -1 or within [0, %d), got %d", s.hours, s.spikeAt)
	}
	return nil
}

// generate builds hours readings ending at s.end, one per hour, oldest first.
func generate(s series) []domain.Measurement {
	rng := rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	start := s.end.Add(-time.Duration(s.hours-1) * time.Hour)

	rows := make([]domain.Measurement, s.hours)
	for i := range rows {
		ts := start.Add(time.Duration(i) * time.Hour)
		// Coldest around 03:00, warmest around 15:00.
		phase := 2 * math.Pi * float64(ts.Hour()-9) / 24
		v := s.base + s.swing*math.Sin(phase) + s.noise*(2*rng.Float64()-1)
		if i == s.spikeAt {
			v = s.spike
		}
		rows[i] = domain.Measurement{
			Time:       ts,
			SensorID:   s.sensorID,
			SensorName: s.name,
			Unit:       s.unit,
			Value:      math.Round(v*100) / 100,
		}
	}
	return rows
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
