// Package gate bounds the number of executions running at once.
package gate

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/riskinsure/fileretrieval/internal/metrics"
)

// DefaultCapacity is used when a non-positive capacity is configured.
const DefaultCapacity = 100

// Gate is a non-blocking counting semaphore shared by scheduled and manual
// triggers. There is no queue: a failed TryAcquire means try again later.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
	metrics  metrics.Sink
}

// New creates a gate with the given capacity.
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		metrics:  metrics.Noop{},
	}
}

// WithMetrics attaches a metrics sink.
func (g *Gate) WithMetrics(sink metrics.Sink) *Gate {
	g.metrics = sink
	return g
}

// TryAcquire takes a slot if one is free.
func (g *Gate) TryAcquire() (*Slot, bool) {
	if !g.sem.TryAcquire(1) {
		g.metrics.CapacityExceeded()
		return nil, false
	}
	g.metrics.GateInFlight(int(g.inFlight.Add(1)))
	return &Slot{gate: g}, true
}

// Capacity returns the configured number of slots.
func (g *Gate) Capacity() int {
	return g.capacity
}

// InFlight returns the number of slots currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

func (g *Gate) release() {
	g.metrics.GateInFlight(int(g.inFlight.Add(-1)))
	g.sem.Release(1)
}

// Slot is one acquired unit of capacity. Release is safe to call more than once.
type Slot struct {
	gate *Gate
	once sync.Once
}

// Release returns the slot to its gate. A nil slot is a no-op.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.gate.release)
}
