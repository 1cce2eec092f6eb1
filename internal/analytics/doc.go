// Package analytics trains and applies the forecast and anomaly models for
// one focused sensor.
//
// Both trainers read a bounded window of the most recent measurements, so
// retraining never scans the full history. Trained models are written to an
// artifact.Store as JSON envelopes and read back on every prediction or
// classification call; a missing artifact surfaces as domain.ErrModelNotFound
// and a corrupt one as *domain.ArtifactError.
package analytics
