package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ephemeris-service/models"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaSink publishes records as JSON messages keyed by endpoint
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates an async writer for topic on the given brokers.
// Delivery failures surface only through logger.
func NewKafkaSink(brokers []string, topic string, logger logrus.FieldLogger) *KafkaSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("sink", "kafka")
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
			RequiredAcks: kafka.RequireOne,
			ErrorLogger:  kafka.LoggerFunc(log.Errorf),
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.WithError(err).Warnf("Dropped %d metric(s)", len(messages))
				}
			},
		},
	}
}

func (k *KafkaSink) Record(ctx context.Context, rec models.MetricRecord) error {
	msg, err := Message(rec)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish metric: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// Message encodes a record as a Kafka message
func Message(rec models.MetricRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode metric: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.Endpoint),
		Value: value,
		Time:  rec.CreatedAt,
	}, nil
}

var _ Sink = (*KafkaSink)(nil)
