// Package ml implements the two models used by the analytics service: an
// ordinary least-squares linear regression over cyclical time features and
// an isolation forest for unsupervised outlier scoring.
//
// Both models are plain data structs so they can be serialized as JSON
// artifacts and reloaded in another process.
package ml
