// Package events provides the append-only structured event log for agent
// activity: cycle progress, clarification rounds, VM lifecycle, and remote
// phase execution. Events are persisted to SQLite and surfaced through the
// `minder activity` command.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event that occurred during agent activity.
type EventType string

const (
	// EventTypeCycleStarted indicates an orchestration cycle began
	EventTypeCycleStarted EventType = "cycle_started"
	// EventTypeCycleCompleted indicates an orchestration cycle finished
	EventTypeCycleCompleted EventType = "cycle_completed"
	// EventTypeIssueSkipped indicates an issue was skipped (already processed, gate denied, ...)
	EventTypeIssueSkipped EventType = "issue_skipped"

	// Clarification events
	// EventTypeClarificationRequested indicates minder posted clarifying questions
	EventTypeClarificationRequested EventType = "clarification_requested"
	// EventTypeClarificationReceived indicates a human answer was accepted
	EventTypeClarificationReceived EventType = "clarification_received"
	// EventTypeClarificationFollowUp indicates a follow-up or re-ask was posted
	EventTypeClarificationFollowUp EventType = "clarification_follow_up"

	// VM lifecycle events
	// EventTypeVMProvisioned indicates a VM reached ready with an address
	EventTypeVMProvisioned EventType = "vm_provisioned"
	// EventTypeVMDestroyed indicates a VM teardown completed
	EventTypeVMDestroyed EventType = "vm_destroyed"
	// EventTypeVMProvisionFailed indicates provisioning failed or timed out
	EventTypeVMProvisionFailed EventType = "vm_provision_failed"

	// Remote execution events
	// EventTypePhaseStarted indicates a remote phase began
	EventTypePhaseStarted EventType = "phase_started"
	// EventTypePhaseCompleted indicates a remote phase finished
	EventTypePhaseCompleted EventType = "phase_completed"
	// EventTypeDevelopmentCompleted indicates the full session succeeded
	EventTypeDevelopmentCompleted EventType = "development_completed"
	// EventTypeDevelopmentFailed indicates the session failed
	EventTypeDevelopmentFailed EventType = "development_failed"

	// EventTypeError indicates an error occurred
	EventTypeError EventType = "error"
)

// Severity indicates how important an event is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one entry in the agent activity log.
type Event struct {
	ID        int64          `json:"id"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	IssueKey  string         `json:"issue_key,omitempty"` // "owner/repo#N", empty for agent-level events
	TaskID    string         `json:"task_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates an event with the timestamp set to now.
func New(eventType EventType, severity Severity, issueKey, message string, data map[string]any) *Event {
	return &Event{
		Type:      eventType,
		Severity:  severity,
		IssueKey:  issueKey,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// marshalData serializes the free-form data map for storage.
func (e *Event) marshalData() (string, error) {
	if len(e.Data) == 0 {
		return "", nil
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalData restores the data map from its stored form.
func (e *Event) unmarshalData(raw string) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), &e.Data)
}
