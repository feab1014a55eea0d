package metrics

import "time"

// Noop discards all metrics.
type Noop struct{}

var _ Sink = Noop{}

func (Noop) TickCompleted(time.Duration, int)        {}
func (Noop) CapacityExceeded()                       {}
func (Noop) GateInFlight(int)                        {}
func (Noop) ExecutionFinished(string, time.Duration) {}
func (Noop) FilesDiscovered(int)                     {}
func (Noop) NotificationOutcome(string, string)      {}
func (Noop) DispatchRetry()                          {}
