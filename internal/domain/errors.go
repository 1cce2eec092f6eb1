package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotFound means no trained artifact exists yet. It is an expected
	// state before the first training run.
	ErrModelNotFound = errors.New("model not found")

	// ErrStorageUnavailable means the storage gate exhausted its retries.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNoSensor means analytics was started without a focused sensor.
	ErrNoSensor = errors.New("no sensor configured for analytics")
)

// ArtifactError reports an artifact that exists but cannot be used.
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }
