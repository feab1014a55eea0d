package domain

import "time"

// ExecuteFileCheck asks the dispatcher to run one check of a configuration.
type ExecuteFileCheck struct {
	ClientID        string    `json:"clientId"`
	ConfigurationID string    `json:"configurationId"`
	ScheduledTime   time.Time `json:"scheduledTime"`
	IsManualTrigger bool      `json:"isManualTrigger"`
	TriggeredBy     string    `json:"triggeredBy,omitempty"`
	IdempotencyKey  string    `json:"idempotencyKey"`
}

// Audit event type names.
const (
	EventFileCheckTriggered = "FileCheckTriggered"
	EventFileCheckCompleted = "FileCheckCompleted"
	EventFileCheckFailed    = "FileCheckFailed"
)

type FileCheckTriggered struct {
	ExecutionID            string    `json:"executionId"`
	ClientID               string    `json:"clientId"`
	ConfigurationID        string    `json:"configurationId"`
	IsManualTrigger        bool      `json:"isManualTrigger"`
	TriggeredBy            string    `json:"triggeredBy"`
	ScheduledExecutionTime time.Time `json:"scheduledExecutionTime"`
}

type FileCheckCompleted struct {
	ExecutionID     string `json:"executionId"`
	DiscoveredCount int    `json:"discoveredCount"`
	DispatchedCount int    `json:"dispatchedCount"`
}

type FileCheckFailed struct {
	ExecutionID   string `json:"executionId"`
	FailureReason string `json:"failureReason"`
}
