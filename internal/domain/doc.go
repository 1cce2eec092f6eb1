// Package domain models environmental telemetry collected from openSenseMap
// senseBoxes and the analytics results derived from it.
//
// # Data Source
//
// Measurements originate from the openSenseMap REST API
// (https://api.opensensemap.org). A senseBox is a station identified by a
// 24-character hex ID; it exposes several sensors (temperature, humidity,
// PM2.5, ...) each with its own ID, title, and unit.
//
// Box metadata carries the most recent reading per sensor:
//
//	GET /boxes/{box_id}
//	{"sensors": [{"_id": "...", "title": "Temperatur", "unit": "°C",
//	              "lastMeasurement": {"createdAt": "2024-05-01T12:00:00.000Z", "value": "21.37"}}]}
//
// Historical readings are served per sensor over a [from, to) window:
//
//	GET /boxes/{box_id}/data/{sensor_id}?from-date=...Z&to-date=...Z&download=false
//	[{"createdAt": "2024-05-01T11:55:00.000Z", "value": "21.30"}, ...]
//
// # Conventions
//
// Timestamps are ISO-8601 with a "Z" suffix. They are parsed with
// [ParseAPITime] and always stored and featurized in UTC, so a value read
// back from the store has a zero offset and the same wall clock as the API.
//
// Values arrive as JSON strings ("21.37") and sometimes as numbers; both are
// cast to float64. Sensors without a lastMeasurement are skipped.
//
// # Analytics
//
// Two models are trained over a bounded [TrainingWindow] of the focused
// sensor: a linear forecast over cyclical time features and an isolation
// forest over raw values. Classification labels use the scikit-learn
// convention: [LabelAnomaly] (-1) and [LabelNormal] (1).
package domain
