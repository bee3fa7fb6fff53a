// Package projection applies decoded domain events to the escrow read
// model inside a single database transaction per event, enforcing
// duplicate detection, lifecycle monotonicity, the approval threshold,
// and deterministic replay regardless of delivery order.
package projection

// Outcome classifies how Apply disposed of one event.
type Outcome string

const (
	Applied            Outcome = "applied"
	SkippedDuplicate   Outcome = "skipped_duplicate"
	OutOfOrderBuffered Outcome = "out_of_order_buffered"
	Rejected           Outcome = "rejected"
)
