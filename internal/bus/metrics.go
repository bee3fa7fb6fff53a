package bus

import (
	"context"

	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/metrics"
)

// publishCounter is the narrow surface meteredPublisher needs from the
// metric registry.
type publishCounter interface {
	RecordPublished(eventType string)
}

// meteredPublisher counts events_published_total once the broker has
// durably accepted a publish, so the counter never includes attempts that
// were retried and ultimately failed.
type meteredPublisher struct {
	inner   eventPublisher
	metrics publishCounter
}

// WithMetrics wraps a Publisher so every successful Publish increments
// events_published_total{event_type}.
func WithMetrics(inner eventPublisher, m *metrics.Metrics) *meteredPublisher {
	return &meteredPublisher{inner: inner, metrics: m}
}

func (p *meteredPublisher) Publish(ctx context.Context, e chainevents.Event) error {
	if err := p.inner.Publish(ctx, e); err != nil {
		return err
	}
	p.metrics.RecordPublished(string(e.EventType))
	return nil
}
