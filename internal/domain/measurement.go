package domain

import "time"

// Measurement is one timestamped scalar reading from a sensor.
type Measurement struct {
	Time       time.Time `json:"time"`
	SensorID   string    `json:"sensor_id"`
	SensorName string    `json:"sensor_name"`
	Unit       string    `json:"unit"`
	Value      float64   `json:"value"`
}

// SensorMeta describes one channel of a box as reported by the API.
type SensorMeta struct {
	ID              string
	Title           string
	Unit            string
	LastMeasurement *Measurement
}

// SensorBox is a station and its sensors.
type SensorBox struct {
	ID      string
	Sensors []SensorMeta
}

// SensorInfo is a distinct sensor present in the store.
type SensorInfo struct {
	ID   string `json:"sensor_id"`
	Name string `json:"sensor_name"`
	Unit string `json:"unit"`
}

// TrainingWindow is the most recent slice of one sensor's history, oldest first.
type TrainingWindow []Measurement

// Values returns the window's values in time order.
func (w TrainingWindow) Values() []float64 {
	out := make([]float64, len(w))
	for i, m := range w {
		out[i] = m.Value
	}
	return out
}

// Last returns the most recent measurement. The window must not be empty.
func (w TrainingWindow) Last() Measurement {
	return w[len(w)-1]
}

// ForecastPoint is one predicted value.
type ForecastPoint struct {
	Time      time.Time `json:"time"`
	Predicted float64   `json:"predicted"`
}

// Label is the result of classifying a single value.
type Label int

const (
	LabelAnomaly Label = -1
	LabelNormal  Label = 1
)

func (l Label) String() string {
	if l == LabelAnomaly {
		return "anomaly"
	}
	return "normal"
}

// Detection is the classification of the latest stored reading.
type Detection struct {
	SensorID string    `json:"sensor_id"`
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	Label    Label     `json:"label"`
}
