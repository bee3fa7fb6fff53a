package bus

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// OpenSubscriber connects to Pub/Sub and returns the named subscription,
// with each automatic ack-deadline extension capped at ackDeadlineSec,
// ready to wrap in a Subscriber.
// Dead-lettering (MaxDeliveryAttempts) is a property of the subscription
// itself, provisioned out of band by infrastructure tooling rather than
// this process — the indexer only needs to know it exists so it never has
// to implement its own attempt-counting or DLQ publish path.
func OpenSubscriber(ctx context.Context, projectID, subscriptionID string, ackDeadlineSec int) (*pubsub.Subscription, *pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: new client: %w", err)
	}
	sub := client.Subscription(subscriptionID)
	if ackDeadlineSec > 0 {
		sub.ReceiveSettings.MaxExtensionPeriod = time.Duration(ackDeadlineSec) * time.Second
	}
	return sub, client, nil
}
