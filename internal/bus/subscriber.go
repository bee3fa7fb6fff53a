package bus

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"cloud.google.com/go/pubsub"

	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/codec"
	"github.com/ocx/escrow-indexer/internal/metrics"
)

// Handler applies a decoded event to the Projection Engine and reports
// whether it should be acked. Returning an error causes the Subscriber to
// nack the message so Pub/Sub redelivers it, up to MaxDeliveryAttempts
// before the broker's native dead-letter policy takes over.
type Handler func(ctx context.Context, e chainevents.Event) error

// Subscriber pulls messages from a Pub/Sub subscription, decodes them, and
// hands them to a Handler with bounded concurrency.
type Subscriber struct {
	sub           *pubsub.Subscription
	handler       Handler
	concurrency   int
	metrics       *metrics.Metrics
	maxDeliveries int
	inFlight      atomic.Int64
}

// NewSubscriber wraps an already-configured subscription. concurrency caps
// how many messages are processed at once; Pub/Sub itself re-extends the
// ack deadline for messages still in flight, so handlers may run longer
// than the subscription's configured AckDeadline without being redelivered
// early. m may be nil in tests. maxDeliveries mirrors the subscription's own
// dead-letter policy so the in-process dead_letters_total counter tracks the
// broker's actual DLQ transition instead of guessing at it.
func NewSubscriber(sub *pubsub.Subscription, handler Handler, concurrency int, m *metrics.Metrics, maxDeliveries int) *Subscriber {
	if concurrency <= 0 {
		concurrency = 1
	}
	sub.ReceiveSettings.NumGoroutines = concurrency
	return &Subscriber{sub: sub, handler: handler, concurrency: concurrency, metrics: m, maxDeliveries: maxDeliveries}
}

// Run blocks, pulling and dispatching messages until ctx is cancelled or
// the underlying Receive call returns a fatal error.
func (s *Subscriber) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		s.recordBacklog(s.inFlight.Add(1))
		defer s.recordBacklog(s.inFlight.Add(-1))

		ev, err := DecodeMessage(m)
		if err != nil {
			log.Printf("bus: undecodable message %s, nacking: %v", m.ID, err)
			s.nack(m)
			return
		}

		if err := s.handler(ctx, ev); err != nil {
			log.Printf("bus: handler failed for %s (delivery attempt %d), nacking: %v",
				ev.EventID, deliveryAttempt(m), err)
			s.nack(m)
			return
		}

		m.Ack()
	})
	if err != nil {
		return fmt.Errorf("bus: receive: %w", err)
	}
	return nil
}

// nack rejects a message and, when this was its last allowed delivery
// attempt, counts it as dead-lettered. The broker still owns the actual
// move to the dead-letter topic; this is a local, best-effort mirror of
// that transition for operator dashboards.
func (s *Subscriber) nack(m *pubsub.Message) {
	m.Nack()
	if s.metrics == nil {
		return
	}
	if s.maxDeliveries > 0 && deliveryAttempt(m) >= s.maxDeliveries {
		s.metrics.RecordDeadLetter()
	}
}

func (s *Subscriber) recordBacklog(n int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.SetSubscriberBacklog(int(n))
}

// DecodeMessage turns a raw Pub/Sub message into a domain event, trusting
// the JSON payload's event_type field over the broker attribute of the
// same name: a prior incident elsewhere in this stack shipped that
// attribute empty under a load balancer's message duplication path, and
// the payload is always authoritative since it's what Encode wrote.
func DecodeMessage(m *pubsub.Message) (chainevents.Event, error) {
	return codec.DecodeWire(m.Data)
}

// deliveryAttempt reads Pub/Sub's delivery-attempt field when dead lettering
// is configured on the subscription; it is nil otherwise.
func deliveryAttempt(m *pubsub.Message) int {
	if m.DeliveryAttempt == nil {
		return 0
	}
	return *m.DeliveryAttempt
}
