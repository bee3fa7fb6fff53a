// Package pipeline holds the cross-cutting context and error taxonomy
// shared by the Relayer, Indexer, and Backfill Runner: typed results at
// every boundary instead of ad hoc exception-style control flow.
package pipeline

import "fmt"

// TransientError wraps a failure that should be retried locally with
// backoff and never advances persisted state: RPC timeouts, broker
// unavailability, DB deadlocks, connection resets.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Cause) }
func (e *TransientError) Unwrap() error { return e.Cause }

// UnprojectableError wraps a message that cannot be applied: a decode
// failure or a constraint violation an upsert can't resolve. The Subscriber
// nacks it; after MaxDeliveryAttempts the broker's DLQ takes over and the
// pipeline continues.
type UnprojectableError struct {
	Op    string
	Cause error
}

func (e *UnprojectableError) Error() string {
	return fmt.Sprintf("unprojectable: %s: %v", e.Op, e.Cause)
}
func (e *UnprojectableError) Unwrap() error { return e.Cause }

// AnomalyError records a logical anomaly that should not corrupt state:
// an unknown event type, a lifecycle-monotonicity violation, an
// unexpected checksum. The event is still appended to escrow_events for
// audit.
type AnomalyError struct {
	Op    string
	Cause error
}

func (e *AnomalyError) Error() string { return fmt.Sprintf("anomaly: %s: %v", e.Op, e.Cause) }
func (e *AnomalyError) Unwrap() error { return e.Cause }

// FatalError halts the process with a distinct exit code: a deep reorg, a
// schema mismatch, missing required config, unrecoverable checkpoint loss.
// The process refuses to restart automatically; an operator must intervene.
type FatalError struct {
	Op       string
	Cause    error
	ExitCode int
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %s: %v", e.Op, e.Cause) }
func (e *FatalError) Unwrap() error { return e.Cause }
