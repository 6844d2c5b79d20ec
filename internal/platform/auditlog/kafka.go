package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit records to the audit stream, keyed by
// correlation id so one decision's records land on one partition.
type KafkaSink struct {
	writer kafkaWriter
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        strings.TrimSpace(cfg.Topic),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: w}, nil
}

func (s *KafkaSink) Append(ctx context.Context, rec Record) error {
	if s == nil || s.writer == nil {
		return fmt.Errorf("kafka sink not initialized")
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(map[string]any{
		"occurred_at":    rec.OccurredAt.UTC(),
		"actor":          strings.TrimSpace(rec.Actor),
		"action":         strings.TrimSpace(rec.Action),
		"resource_type":  strings.TrimSpace(rec.ResourceType),
		"resource_id":    strings.TrimSpace(rec.ResourceID),
		"correlation_id": strings.TrimSpace(rec.CorrelationID),
		"decision":       strings.TrimSpace(rec.Decision),
		"payload":        rec.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strings.TrimSpace(rec.CorrelationID)),
		Value: value,
	})
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
