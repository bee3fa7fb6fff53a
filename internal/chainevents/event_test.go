package chainevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvelope_Before(t *testing.T) {
	a := Envelope{BlockNumber: 10, LogIndex: 2}
	b := Envelope{BlockNumber: 10, LogIndex: 3}
	c := Envelope{BlockNumber: 11, LogIndex: 0}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
	assert.False(t, a.Before(a))
}

func TestType_Valid(t *testing.T) {
	assert.True(t, TypeEscrowCreated.Valid())
	assert.False(t, Type("UnknownThing").Valid())
}

func TestEvent_EscrowAddress(t *testing.T) {
	e := Event{Payload: PayloadApproved{EscrowAddress: "0xe1", Approver: "0xc"}}
	addr, err := e.EscrowAddress()
	assert.NoError(t, err)
	assert.Equal(t, "0xe1", addr)

	bad := Event{Payload: "not-a-payload"}
	_, err = bad.EscrowAddress()
	assert.Error(t, err)
}
