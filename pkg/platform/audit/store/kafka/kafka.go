// Package kafka publishes audit events to a Kafka topic. Kafka is the
// durable sink for provenance events; the in-memory store covers test and
// single-node deployments.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "gazetteer/pkg/platform/audit"
)

// Store produces audit events to a single Kafka topic, keyed by subject so
// per-entity ordering is preserved within a partition.
type Store struct {
	client *kgo.Client
	topic  string
}

// payload is the JSON structure written to Kafka. Field names match
// audit.Event for deserialization by downstream consumers.
type payload struct {
	Category  string `json:"Category"`
	Timestamp string `json:"Timestamp"`
	UserID    string `json:"UserID,omitempty"`
	Subject   string `json:"Subject"`
	Action    string `json:"Action"`
	RequestID string `json:"RequestID,omitempty"`
}

// New connects a producer to the given brokers.
func New(brokers []string, topic string) (*Store, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return &Store{client: client, topic: topic}, nil
}

// Append synchronously produces one event. Returning an error means the
// event is not durably stored and the caller decides whether to fail.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(payload{
		Category:  string(audit.AuditEvent(event.Action).Category()),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		UserID:    event.UserID,
		Subject:   event.Subject,
		Action:    event.Action,
		RequestID: event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Subject),
		Value: body,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (s *Store) Close() {
	s.client.Close()
}
