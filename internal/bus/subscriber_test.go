package bus

import (
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/escrow-indexer/internal/chainevents"
	"github.com/ocx/escrow-indexer/internal/codec"
)

func TestDecodeMessage_UsesPayloadNotAttribute(t *testing.T) {
	ev := chainevents.Event{
		Envelope: chainevents.Envelope{
			EventID:   "0xabc",
			EventType: chainevents.TypeApproved,
			ChainID:   1,
		},
		Payload: chainevents.PayloadApproved{EscrowAddress: "0xe", Approver: "0xa"},
	}
	data, err := codec.Encode(ev)
	require.NoError(t, err)

	// Attribute intentionally left blank to mirror the historical bug this
	// decode path guards against: the payload must still win.
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"event_type": ""}}

	decoded, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, chainevents.TypeApproved, decoded.EventType)
}

func TestDeliveryAttempt_NilWhenNotDeadLettered(t *testing.T) {
	msg := &pubsub.Message{}
	assert.Equal(t, 0, deliveryAttempt(msg))

	n := 3
	msg.DeliveryAttempt = &n
	assert.Equal(t, 3, deliveryAttempt(msg))
}
