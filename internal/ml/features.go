package ml

import (
	"math"
	"time"
)

// FeatureNames is the forecast feature schema. Training and prediction must
// build vectors in exactly this order.
var FeatureNames = []string{"t", "hour_sin", "hour_cos", "weekday_sin", "weekday_cos"}

// HourCycle encodes an hour of day on the unit circle.
func HourCycle(hour int) (sin, cos float64) {
	return cycle(float64(hour), 24)
}

// WeekdayCycle encodes a weekday (Monday=0 … Sunday=6) on the unit circle.
func WeekdayCycle(weekday int) (sin, cos float64) {
	return cycle(float64(weekday), 7)
}

// Weekday returns ts's day of week with Monday=0, evaluated in UTC.
func Weekday(ts time.Time) int {
	return (int(ts.UTC().Weekday()) + 6) % 7
}

// TimeFeatures builds the feature vector for sequence index t at instant ts.
func TimeFeatures(t int, ts time.Time) []float64 {
	ts = ts.UTC()
	hs, hc := HourCycle(ts.Hour())
	ws, wc := WeekdayCycle(Weekday(ts))
	return []float64{float64(t), hs, hc, ws, wc}
}

func cycle(v, period float64) (float64, float64) {
	angle := 2 * math.Pi * v / period
	return math.Sin(angle), math.Cos(angle)
}
