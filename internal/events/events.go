// Package events publishes refund and notification outcomes for downstream consumers.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const (
	RefundProcessed    = "refund.processed"
	RefundEscalated    = "refund.escalated"
	NotificationSent   = "notification.sent"
	NotificationFailed = "notification.failed"
)

// Envelope is the JSON value written for every event.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher emits an outcome event. key partitions events, usually by booking id.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Config holds Kafka connection settings.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	TLS      bool
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newSaramaConfig(cfg Config) *sarama.Config {
	scfg := sarama.NewConfig()
	scfg.Producer.Return.Successes = true
	scfg.Producer.Idempotent = true
	scfg.Producer.RequiredAcks = sarama.WaitForAll
	scfg.Net.MaxOpenRequests = 1
	scfg.Metadata.Retry.Max = 5
	scfg.Metadata.Retry.Backoff = 2 * time.Second
	if cfg.ClientID != "" {
		scfg.ClientID = cfg.ClientID
	}
	if cfg.TLS {
		scfg.Net.TLS.Enable = true
		scfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return scfg
}

// NewSyncProducer dials the configured brokers.
func NewSyncProducer(cfg Config) (sarama.SyncProducer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers required")
	}
	return sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
}

// KafkaPublisher writes envelopes to a single topic.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
	newID    func() string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = "innkeep.outcomes"
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(Envelope{
		EventID:    p.newID(),
		Type:       eventType,
		OccurredAt: p.now().UTC(),
		Key:        key,
		Payload:    raw,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventType)},
		},
	}
	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
