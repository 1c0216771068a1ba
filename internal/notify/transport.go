package notify

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Johnmc130/SerenVoice/internal/domain"
)

type schemaRegistrar interface {
	EnsureSchema(ctx context.Context, subject string, schema string) (int, error)
}

const dispatchSchemaSubject = "notification_dispatch-value"

// KafkaTransport publishes notification events to the dispatch topic with
// Confluent Schema Registry framing. The downstream delivery service owns
// the actual push channel.
type KafkaTransport struct {
	writer   *kafka.Writer
	registry schemaRegistrar

	schemaID int
}

// NewKafkaTransport constructs a transport writing to the given topic.
func NewKafkaTransport(brokers []string, topic string, registry schemaRegistrar) *KafkaTransport {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	return &KafkaTransport{writer: writer, registry: registry}
}

type dispatchPayload struct {
	EventID     int64  `json:"event_id"`
	ActivityID  string `json:"activity_id"`
	RecipientID string `json:"recipient_id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	ActionRef   string `json:"action_ref"`
	EnqueuedAt  string `json:"enqueued_at"`
}

// Send publishes one event. Messages are keyed by recipient so a user's
// notifications stay ordered within a partition.
func (t *KafkaTransport) Send(ctx context.Context, event domain.NotificationEvent) error {
	schemaID, err := t.ensureSchema(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(dispatchPayload{
		EventID:     event.ID,
		ActivityID:  event.ActivityID,
		RecipientID: event.RecipientID,
		Kind:        string(event.Kind),
		Title:       event.Title,
		Message:     event.Message,
		ActionRef:   event.ActionRef,
		EnqueuedAt:  event.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	return t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RecipientID),
		Value: encodeWireFormat(schemaID, payload),
		Time:  time.Now().UTC(),
	})
}

func (t *KafkaTransport) ensureSchema(ctx context.Context) (int, error) {
	if t.schemaID != 0 {
		return t.schemaID, nil
	}
	id, err := t.registry.EnsureSchema(ctx, dispatchSchemaSubject, notificationDispatchSchema)
	if err != nil {
		return 0, err
	}
	t.schemaID = id
	return id, nil
}

// Close releases the underlying writer.
func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
