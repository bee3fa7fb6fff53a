// Package bus carries domain events between the Relayer and the Indexer
// over Google Cloud Pub/Sub, using chain_id as the ordering key so a single
// chain's events are always delivered in publish order.
package bus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/codec"
)

// attrEventType is a best-effort broker attribute mirroring the payload's
// event_type, kept only for operator-facing filtering in the Cloud
// Console. A historical bug elsewhere in this stack shipped that
// attribute empty, so the Subscriber always re-derives event_type from
// the decoded payload instead of trusting it.
const attrEventType = "event_type"
const attrChainID = "chain_id"

// Publisher publishes domain events to a Pub/Sub topic, ordered per chain.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher wraps an already-configured topic. EnableMessageOrdering
// must be set true on the topic for OrderingKey to take effect; Open wires
// that up for production use.
func NewPublisher(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Open connects to Pub/Sub, ensures the topic has ordering enabled, and
// returns a ready-to-use Publisher. Callers own the returned client's
// lifetime via Close.
func Open(ctx context.Context, projectID, topicID string) (*Publisher, *pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: new client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	return NewPublisher(topic), client, nil
}

// Publish sends one event, blocking until the broker acknowledges receipt
// or the retry budget (5 attempts, 1s-30s backoff) is spent. Events for
// the same chain are always assigned the same OrderingKey, so Pub/Sub
// delivers them to subscribers in the order they were published.
func (p *Publisher) Publish(ctx context.Context, e chainevents.Event) error {
	payload, err := codec.Encode(e)
	if err != nil {
		return fmt.Errorf("bus: encode: %w", err)
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			attrEventType: string(e.EventType),
			attrChainID:   strconv.FormatInt(e.ChainID, 10),
		},
		OrderingKey: strconv.FormatInt(e.ChainID, 10),
	}

	var lastErr error
	backoff := time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		result := p.topic.Publish(ctx, msg)
		_, err := result.Get(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		// A failed publish pauses its ordering key; clear that before retrying.
		p.topic.ResumePublish(msg.OrderingKey)
		if attempt == 5 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}
	return fmt.Errorf("bus: publish %s after 5 attempts: %w", e.EventID, lastErr)
}

// Close flushes any buffered messages. Safe to call once per Publisher.
func (p *Publisher) Close() {
	p.topic.Stop()
}
