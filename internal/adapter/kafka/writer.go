package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/config"
	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes detection results to a Kafka topic.
// It implements analytics.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured detections topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaDetectionsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: 5 * time.Second,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishDetection writes one detection keyed by sensor ID, so all results
// for a sensor land on the same partition in order.
func (w *Writer) PublishDetection(ctx context.Context, d domain.Detection) error {
	msg, err := serializeToMessage(d)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish detection: %w", err)
	}
	w.logger.Debug("detection published", "sensor_id", d.SensorID, "label", d.Label.String())
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Detection into a Kafka message.
func serializeToMessage(d domain.Detection) (kafkago.Message, error) {
	d.Time = d.Time.UTC()
	data, err := json.Marshal(d)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize detection: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(d.SensorID),
		Value: data,
		Time:  d.Time,
		Headers: []kafkago.Header{
			{Key: "label", Value: []byte(d.Label.String())},
			{Key: "measured_at", Value: []byte(d.Time.Format(time.RFC3339))},
		},
	}, nil
}
