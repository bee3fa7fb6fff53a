package pipeline

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one independently-cancellable unit of work (the Tailer, a
// Subscriber worker, the API server) run under a Supervisor.
type Task func(ctx context.Context) error

// Supervisor runs a set of tasks together: if any returns a non-nil error,
// the rest are cancelled via ctx, and shutdown signals propagate the same
// way, with golang.org/x/sync/errgroup doing the cancellation plumbing.
type Supervisor struct {
	drainTimeout time.Duration
}

func NewSupervisor(drainTimeout time.Duration) *Supervisor {
	if drainTimeout <= 0 {
		drainTimeout = 60 * time.Second
	}
	return &Supervisor{drainTimeout: drainTimeout}
}

// Run blocks until ctx is cancelled (shutdown signal) or a task fails.
// On cancellation it gives in-flight tasks up to drainTimeout to return
// before Run itself returns, bounding how long shutdown can take.
func (s *Supervisor) Run(ctx context.Context, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		task := t
		g.Go(func() error { return task(gctx) })
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-done:
		log.Printf("pipeline: shutdown signal received, drained within %s", s.drainTimeout)
		return err
	case <-time.After(s.drainTimeout):
		log.Printf("pipeline: tasks still running after %s drain timeout", s.drainTimeout)
		return ctx.Err()
	}
}
