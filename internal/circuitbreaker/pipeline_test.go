package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipelineBreakers_AllClosedInitially(t *testing.T) {
	b := NewPipelineBreakers()
	assert.Equal(t, StateClosed, b.RPC.State())
	assert.Equal(t, StateClosed, b.Bus.State())
	assert.Equal(t, StateClosed, b.Database.State())
}

func TestPipelineBreakers_RPCTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewPipelineBreakers()
	failing := errors.New("rpc timeout")

	for i := 0; i < 3; i++ {
		_, err := b.RPC.Execute(func() (interface{}, error) { return nil, failing })
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, b.RPC.State())

	_, err := b.RPC.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestPipelineBreakers_HealthStatusReflectsOpenBreaker(t *testing.T) {
	b := NewPipelineBreakers()
	failing := errors.New("db down")
	for i := 0; i < 3; i++ {
		_, _ = b.RPC.Execute(func() (interface{}, error) { return nil, failing })
	}

	status, detail := b.HealthStatus()
	assert.Equal(t, "DEGRADED", status)
	assert.Equal(t, "OPEN", detail["rpc"])
}
