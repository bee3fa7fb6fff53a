package pipeline

import (
	"sync/atomic"
	"time"
)

// Health tracks the liveness signals the Query API's /health endpoint
// needs: whether the bus subscription is attached, and how long ago the
// last event was successfully applied. Implements api.HealthChecker
// without the api package needing to import pipeline.
type Health struct {
	brokerAttached int32
	lastAppliedAt  int64 // unix nanos; 0 means "no events applied yet"
}

func NewHealth() *Health {
	return &Health{}
}

func (h *Health) SetBrokerAttached(attached bool) {
	v := int32(0)
	if attached {
		v = 1
	}
	atomic.StoreInt32(&h.brokerAttached, v)
}

func (h *Health) RecordApplied() {
	atomic.StoreInt64(&h.lastAppliedAt, time.Now().UnixNano())
}

func (h *Health) BrokerHealthy() bool {
	return atomic.LoadInt32(&h.brokerAttached) == 1
}

// LastAppliedAge reports how long ago an event was applied. hasEvents is
// false until the first event lands, so the health check treats a
// brand-new or idle chain as healthy rather than permanently stale.
func (h *Health) LastAppliedAge() (time.Duration, bool) {
	ts := atomic.LoadInt64(&h.lastAppliedAt)
	if ts == 0 {
		return 0, false
	}
	return time.Since(time.Unix(0, ts)), true
}
