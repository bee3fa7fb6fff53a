package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisor_Run_OneFailureCancelsTheOthers(t *testing.T) {
	s := NewSupervisor(time.Second)
	boom := errors.New("boom")

	observedCancel := make(chan struct{})

	err := s.Run(context.Background(),
		func(ctx context.Context) error {
			return boom
		},
		func(ctx context.Context) error {
			<-ctx.Done()
			close(observedCancel)
			return ctx.Err()
		},
	)

	assert.ErrorIs(t, err, boom)

	select {
	case <-observedCancel:
	case <-time.After(time.Second):
		t.Fatal("second task never observed cancellation")
	}
}

func TestSupervisor_Run_AllSucceedReturnsNil(t *testing.T) {
	s := NewSupervisor(0)
	err := s.Run(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil },
	)
	assert.NoError(t, err)
}

func TestSupervisor_Run_ParentCancellationPropagates(t *testing.T) {
	s := NewSupervisor(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context) error {
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
