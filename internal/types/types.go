// Package types defines the core data model shared across minder:
// issues pulled from the tracker, per-issue status records, task records,
// the persisted agent state document, and VM instances.
package types

import (
	"fmt"
	"time"
)

// IssueStatusValue represents the durable processing status of an issue.
type IssueStatusValue string

const (
	// StatusResponded indicates minder posted a response comment on the issue
	StatusResponded IssueStatusValue = "responded"
	// StatusAcknowledged indicates minder acknowledged the issue without further action
	StatusAcknowledged IssueStatusValue = "acknowledged"
	// StatusSkipped indicates the issue was deliberately skipped
	StatusSkipped IssueStatusValue = "skipped"
	// StatusAwaitingClarification indicates minder asked a question and is waiting for a human
	StatusAwaitingClarification IssueStatusValue = "awaiting_clarification"
	// StatusClarificationReceived indicates the human answered and the issue is actionable again
	StatusClarificationReceived IssueStatusValue = "clarification_received"
	// StatusDevelopmentCompleted indicates a development session ran to completion
	StatusDevelopmentCompleted IssueStatusValue = "development_completed"
)

// IsValid checks if the status value is valid
func (v IssueStatusValue) IsValid() bool {
	switch v {
	case StatusResponded, StatusAcknowledged, StatusSkipped,
		StatusAwaitingClarification, StatusClarificationReceived, StatusDevelopmentCompleted:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle status of a task record.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// VMStatus represents the lifecycle state of a leased VM instance.
type VMStatus string

const (
	VMProvisioning VMStatus = "provisioning"
	VMReady        VMStatus = "ready"
	VMSetup        VMStatus = "setup"
	VMRunning      VMStatus = "running"
	VMFailed       VMStatus = "failed"
	VMDestroying   VMStatus = "destroying"
)

// DevTaskStatus represents the in-memory status of a development attempt.
type DevTaskStatus string

const (
	DevPending      DevTaskStatus = "pending"
	DevProvisioning DevTaskStatus = "provisioning"
	DevDeveloping   DevTaskStatus = "developing"
	DevTesting      DevTaskStatus = "testing"
	DevCompleting   DevTaskStatus = "completing"
	DevCompleted    DevTaskStatus = "completed"
	DevFailed       DevTaskStatus = "failed"
)

// Issue is minder's read-only view of a tracker work item.
// The tracker owns the issue; minder only writes back through comments,
// labels, and assignments.
type Issue struct {
	RepoFullName string    `json:"repo_full_name"` // "owner/repo"
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Labels       []string  `json:"labels"`
	Author       string    `json:"author"`
	Assignees    []string  `json:"assignees"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the unique (repo, number) key for this issue.
func (i *Issue) Key() string {
	return IssueKey(i.RepoFullName, i.Number)
}

// HasLabel reports whether the issue carries the given label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IssueKey builds the unique key for a (repo, issue number) pair.
func IssueKey(repoFullName string, number int) string {
	return fmt.Sprintf("%s#%d", repoFullName, number)
}

// ClarificationRequest records an outstanding (or answered) clarification
// round for an issue.
type ClarificationRequest struct {
	RequestedAt            time.Time `json:"requested_at"`
	Questions              []string  `json:"questions"`
	OriginalAssignee       string    `json:"original_assignee,omitempty"`
	LastCheckedForResponse time.Time `json:"last_checked_for_response,omitempty"`
}

// IssueStatus is the durable per-issue record. There is at most one record
// per (repo, number) key; transitions replace the whole record.
type IssueStatus struct {
	RepoFullName string           `json:"repo_full_name"`
	IssueNumber  int              `json:"issue_number"`
	Status       IssueStatusValue `json:"status"`
	ProcessedAt  time.Time        `json:"processed_at"`
	CommentID    int64            `json:"comment_id,omitempty"`
	CommentURL   string           `json:"comment_url,omitempty"`

	// Clarification is present only while a clarification round is open or
	// was previously open. It survives status drift so follow-up metadata
	// like LastCheckedForResponse is not lost.
	Clarification *ClarificationRequest `json:"clarification_request,omitempty"`
}

// Key returns the unique (repo, number) key for this record.
func (s *IssueStatus) Key() string {
	return IssueKey(s.RepoFullName, s.IssueNumber)
}

// Terminal reports whether this status means the issue needs no further
// processing by the orchestrator.
func (s *IssueStatus) Terminal() bool {
	switch s.Status {
	case StatusResponded, StatusAcknowledged, StatusSkipped, StatusDevelopmentCompleted:
		return true
	default:
		return false
	}
}

// TaskAction is one entry in a task's append-only action log.
type TaskAction struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// TaskRecord tracks one unit of in-flight or completed work.
// A record moves from AgentState.CurrentTasks to CompletedTasks exactly
// once, on terminal status.
type TaskRecord struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	IssueNumber  int               `json:"issue_number"`
	RepoFullName string            `json:"repo_full_name"`
	Status       TaskStatus        `json:"status"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
	Actions      []TaskAction      `json:"actions,omitempty"`
}

// AgentStats tracks cumulative agent counters.
type AgentStats struct {
	TotalIssuesProcessed int       `json:"total_issues_processed"`
	TotalCommentsPosted  int       `json:"total_comments_posted"`
	TotalCyclesRun       int       `json:"total_cycles_run"`
	LastCycleAt          time.Time `json:"last_cycle_at,omitempty"`
}

// AgentConfig holds the persisted agent configuration knobs.
type AgentConfig struct {
	AssigneeUsername   string `json:"assignee_username,omitempty"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
}

// AgentState is the single persisted document. Every read is a full
// deserialize and every write is a full serialize; see ApplyDefaults for
// the additive-only migration contract.
type AgentState struct {
	LastActiveAt    time.Time     `json:"last_active_at"`
	ProcessedIssues []IssueStatus `json:"processed_issues"`
	CurrentTasks    []TaskRecord  `json:"current_tasks"`
	CompletedTasks  []TaskRecord  `json:"completed_tasks"`
	Stats           AgentStats    `json:"stats"`
	Config          AgentConfig   `json:"config"`
}

// DefaultMaxConcurrentTasks bounds in-flight work when the document does
// not specify a limit.
const DefaultMaxConcurrentTasks = 1

// ApplyDefaults backfills fields that are missing from older documents.
// Loading must never fail because a key is absent; the schema only grows.
func (s *AgentState) ApplyDefaults() {
	if s.ProcessedIssues == nil {
		s.ProcessedIssues = []IssueStatus{}
	}
	if s.CurrentTasks == nil {
		s.CurrentTasks = []TaskRecord{}
	}
	if s.CompletedTasks == nil {
		s.CompletedTasks = []TaskRecord{}
	}
	if s.Config.MaxConcurrentTasks <= 0 {
		s.Config.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
}

// VMInstance describes a leased compute instance. It is owned by the VM
// lifecycle manager for its lifetime; the remote executor borrows a
// reference and only updates Status.
type VMInstance struct {
	ID        int       `json:"id"`
	IP        string    `json:"ip"`
	Status    VMStatus  `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	TicketID  string    `json:"ticket_id"`
	SSHKeyID  string    `json:"ssh_key_id,omitempty"`
}

// DevelopmentTask is the in-memory record of one orchestration attempt.
// It is created per attempt and discarded after the summary comment and
// cleanup, regardless of outcome.
type DevelopmentTask struct {
	Issue       *Issue
	VM          *VMInstance
	Status      DevTaskStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Result      string
}
