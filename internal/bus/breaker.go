package bus

import (
	"context"

	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/circuitbreaker"
)

// eventPublisher is the narrow surface both Publisher and its decorators
// share, so breaker/metrics wrapping composes in either order.
type eventPublisher interface {
	Publish(ctx context.Context, e chainevents.Event) error
}

// breakeredPublisher routes Publish through the shared bus circuit breaker,
// so a broker outage trips once instead of each caller burning its own
// five-attempt retry budget against a dependency that is already down.
type breakeredPublisher struct {
	inner eventPublisher
	cb    *circuitbreaker.CircuitBreaker
}

// WithBreaker wraps a Publisher so Publish calls trip cb on failure.
func WithBreaker(inner eventPublisher, cb *circuitbreaker.CircuitBreaker) *breakeredPublisher {
	return &breakeredPublisher{inner: inner, cb: cb}
}

func (b *breakeredPublisher) Publish(ctx context.Context, e chainevents.Event) error {
	_, err := b.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, b.inner.Publish(ctx, e)
	})
	return err
}
