package domain

import "time"

type ExecutionStatus string

const (
	ExecutionStatusRunning             ExecutionStatus = "Running"
	ExecutionStatusCompleted           ExecutionStatus = "Completed"
	ExecutionStatusCompletedWithErrors ExecutionStatus = "CompletedWithErrors"
	ExecutionStatusFailed              ExecutionStatus = "Failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusRunning
}

// TriggeredByScheduler is the TriggeredBy value for cron-initiated executions.
const TriggeredByScheduler = "Scheduler"

// Execution records one dispatch attempt against a configuration.
type Execution struct {
	ID              string
	ConfigurationID string
	ClientID        string

	ScheduledTime time.Time
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        ExecutionStatus

	DiscoveredCount int
	DispatchedCount int
	FailureReason   string

	IsManualTrigger bool
	TriggeredBy     string
}
