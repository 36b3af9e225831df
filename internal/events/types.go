// Package events provides workflow event types and publishing
// infrastructure. Events mirror what the audit log records but are
// schema-less and meant for live observers and the session log file,
// not for integrity checking.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventWorkflowStarted indicates a workflow was created.
	EventWorkflowStarted EventType = "workflow_started"
	// EventWorkflowFinished indicates a workflow reached a terminal status.
	EventWorkflowFinished EventType = "workflow_finished"
	// EventPhaseAdvanced indicates the phase cursor moved.
	EventPhaseAdvanced EventType = "phase_advanced"
	// EventItemCompleted indicates an item passed its gate.
	EventItemCompleted EventType = "item_completed"
	// EventItemFailed indicates an item's gate did not pass.
	EventItemFailed EventType = "item_failed"
	// EventItemSkipped indicates an item was skipped with a reason.
	EventItemSkipped EventType = "item_skipped"
	// EventGateEvaluated carries a gate result, pass or fail.
	EventGateEvaluated EventType = "gate_evaluated"
	// EventReviewDispatched indicates a review was sent to an executor.
	EventReviewDispatched EventType = "review_dispatched"
	// EventReviewSettled indicates a review concluded, including fallbacks.
	EventReviewSettled EventType = "review_settled"
	// EventCheckpointCreated indicates a state snapshot was written.
	EventCheckpointCreated EventType = "checkpoint_created"
	// EventWarning indicates a non-fatal condition worth surfacing.
	EventWarning EventType = "warning"
)

// Event represents a published event.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Data       any       `json:"data,omitempty"`
	Time       time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, workflowID string, data any) Event {
	return Event{
		Type:       eventType,
		WorkflowID: workflowID,
		Data:       data,
		Time:       time.Now().UTC(),
	}
}

// PhaseUpdate describes a phase cursor move.
type PhaseUpdate struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// ItemUpdate describes an item status change.
type ItemUpdate struct {
	ItemID  string   `json:"item_id"`
	Phase   string   `json:"phase"`
	Status  string   `json:"status"`
	Details []string `json:"details,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// ReviewUpdate describes a review dispatch or settlement.
type ReviewUpdate struct {
	ItemID      string `json:"item_id"`
	ReviewType  string `json:"review_type"`
	Model       string `json:"model,omitempty"`
	WasFallback bool   `json:"was_fallback,omitempty"`
	ErrorType   string `json:"error_type,omitempty"`
	Success     bool   `json:"success"`
}

// WarningData represents a non-fatal warning.
type WarningData struct {
	Message string `json:"message"`
}
