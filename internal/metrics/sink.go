// Package metrics records operational counters for the scheduler, gate and
// dispatcher. All sink methods are fire-and-forget.
package metrics

import "time"

// Sink is implemented by Prometheus and Noop.
type Sink interface {
	TickCompleted(duration time.Duration, due int)
	CapacityExceeded()
	GateInFlight(n int)
	ExecutionFinished(status string, duration time.Duration)
	FilesDiscovered(n int)
	NotificationOutcome(kind, outcome string)
	DispatchRetry()
}
