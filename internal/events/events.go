// Package events publishes artifact lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"photobooth/internal/infra"
)

// Event types.
const (
	TypeStored  = "artifact.stored"
	TypeEvicted = "artifact.evicted"
)

// Event describes one change to the artifact store.
type Event struct {
	Type       string    `json:"type"`
	ArtifactID string    `json:"artifactId"`
	FileName   string    `json:"fileName"`
	RemoteURL  string    `json:"remoteUrl,omitempty"`
	SizeBytes  int64     `json:"sizeBytes"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher delivers events. Publish must not block on the network for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to one topic, keyed by artifact id so
// all events of one artifact land on the same partition.
type KafkaPublisher struct {
	w      messageWriter
	logger *infra.Logger
}

// NewKafkaPublisher builds an asynchronous publisher. Delivery errors are
// logged from the writer's completion callback.
func NewKafkaPublisher(brokers []string, topic string, logger *infra.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: at least one broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("events: topic is required")
	}
	logger = infra.OrDiscard(logger)
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error().Err(err).Int("messages", len(messages)).Str("topic", topic).Msg("events: kafka delivery failed")
			}
		},
	}
	return newKafkaPublisher(w, logger), nil
}

// FromBrokers returns a Kafka publisher when brokers are configured and Nop
// otherwise.
func FromBrokers(brokers []string, topic string, logger *infra.Logger) (Publisher, error) {
	if len(brokers) == 0 {
		return Nop{}, nil
	}
	return NewKafkaPublisher(brokers, topic, logger)
}

func newKafkaPublisher(w messageWriter, logger *infra.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, logger: infra.OrDiscard(logger)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(ev.ArtifactID),
		Value:   payload,
		Time:    ev.At,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*KafkaPublisher)(nil)
)
