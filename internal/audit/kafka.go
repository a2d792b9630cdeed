package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/oshokin/guardian-engine/internal/logger"
)

// kafkaBatchTimeout keeps audit latency low; records are small and rare.
const kafkaBatchTimeout = 250 * time.Millisecond

// KafkaSink publishes audit records to a kafka topic, keyed by session ID so
// one session's history stays ordered within a partition.
type KafkaSink struct {
	// writer is the underlying kafka producer.
	writer *kafka.Writer
}

// NewKafkaSink creates a sink producing to the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: kafkaBatchTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Emit publishes the record as JSON. Failures are logged and swallowed:
// auditing must never stall or fail the alert flow.
func (s *KafkaSink) Emit(ctx context.Context, record Record) {
	body, err := json.Marshal(record)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to encode audit record", "error", err)

		return
	}

	key := record.SessionID
	if key == "" {
		key = record.UserID
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  record.RecordedAt,
	})
	if err != nil {
		logger.ErrorKV(ctx, "Failed to publish audit record", "error", err, "kind", string(record.Kind))
	}
}

// Close flushes and closes the underlying producer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
