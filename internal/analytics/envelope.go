package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/adapter/artifact"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/google/uuid"
)

const (
	kindForecast = "forecast.linear"
	kindAnomaly  = "anomaly.iforest"
)

// envelope is the persisted form of a trained model.
type envelope struct {
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	TrainedAt time.Time       `json:"trained_at"`
	Samples   int             `json:"samples"`
	Model     json.RawMessage `json:"model"`
}

func saveModel(ctx context.Context, store artifact.Store, path, kind string, samples int, trainedAt time.Time, model any) (string, error) {
	body, err := json.Marshal(model)
	if err != nil {
		return "", fmt.Errorf("encode %s model: %w", kind, err)
	}
	env := envelope{
		Kind:      kind,
		ID:        uuid.NewString(),
		TrainedAt: trainedAt.UTC(),
		Samples:   samples,
		Model:     body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	if err := store.Save(ctx, path, data); err != nil {
		return "", fmt.Errorf("save %s model: %w", kind, err)
	}
	return env.ID, nil
}

// loadModel decodes the artifact at path into dst. Absence passes through
// as domain.ErrModelNotFound; anything unreadable is an ArtifactError.
func loadModel(ctx context.Context, store artifact.Store, path, kind string, dst any) (envelope, error) {
	data, err := store.Load(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotFound) {
			return envelope{}, err
		}
		return envelope{}, fmt.Errorf("load %s model: %w", kind, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, &domain.ArtifactError{Path: path, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.Kind != kind {
		return envelope{}, &domain.ArtifactError{Path: path, Err: fmt.Errorf("kind %q, want %q", env.Kind, kind)}
	}
	if len(env.Model) == 0 {
		return envelope{}, &domain.ArtifactError{Path: path, Err: errors.New("empty model")}
	}
	if err := json.Unmarshal(env.Model, dst); err != nil {
		return envelope{}, &domain.ArtifactError{Path: path, Err: fmt.Errorf("decode model: %w", err)}
	}
	return env, nil
}
