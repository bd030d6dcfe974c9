package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/edo-homes/portal/internal/model"
)

const (
	// StreamName is the name of the inbox event stream.
	StreamName = "PORTAL_INBOX"

	// SubjectPrefix is the prefix for all inbox subjects.
	SubjectPrefix = "inbox"

	// MaxEventBatch caps RecentEvents.
	MaxEventBatch = 100
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream creates the inbox stream if it does not exist.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Landlord inbox activity",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject an actor's event is published on.
func EventSubject(actor model.UserID, eventType model.EventType) string {
	return fmt.Sprintf("%s.%d.%s", SubjectPrefix, actor, eventType)
}

// ActorFilter matches every event published by one actor.
func ActorFilter(actor model.UserID) string {
	return fmt.Sprintf("%s.%d.>", SubjectPrefix, actor)
}

// PublishEvent publishes an inbox event and returns its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.InboxEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(event.Actor, event.Type), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// RecentEvents returns up to limit events of one actor published after
// afterSequence, oldest first, and the last sequence read.
func (m *StreamManager) RecentEvents(ctx context.Context, actor model.UserID, afterSequence uint64, limit int) ([]model.InboxEvent, uint64, error) {
	if limit <= 0 || limit > MaxEventBatch {
		limit = MaxEventBatch
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: ActorFilter(actor),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch events: %w", err)
	}

	events, lastSequence := collectEvents(batch.Messages(), afterSequence)

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, fmt.Errorf("batch error: %w", err)
	}

	return events, lastSequence, nil
}

// collectEvents drains msgs. Malformed entries are skipped but still
// advance the returned sequence so they are not read again.
func collectEvents(msgs <-chan jetstream.Msg, afterSequence uint64) ([]model.InboxEvent, uint64) {
	var events []model.InboxEvent
	lastSequence := afterSequence
	for msg := range msgs {
		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		var event model.InboxEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, lastSequence
}
