// Package state implements the durable agent state store: a single JSON
// document holding per-issue status records, in-flight task records, and
// cumulative stats. Every read is a full deserialize and every write is a
// full serialize via write-temp-then-rename, so a crash never leaves a
// half-written document behind.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/minder/internal/types"
)

// CommentRef points at a comment minder posted on an issue.
type CommentRef struct {
	ID  int64
	URL string
}

// TaskSpec describes a task to start tracking.
type TaskSpec struct {
	Type         string
	IssueNumber  int
	RepoFullName string
	Context      map[string]string
}

// Store defines the interface for the agent state backend.
//
// Failure semantics: any I/O error propagates to the caller and is fatal to
// the calling cycle. Silently losing the durable record would cause
// duplicate processing or duplicate cloud spend.
type Store interface {
	// Load reads the full document, creating and persisting a default one
	// if none exists. Missing fields are backfilled with defaults.
	Load() (*types.AgentState, error)
	// Save writes the full document atomically, refreshing LastActiveAt.
	Save(state *types.AgentState) error

	// HasProcessed reports whether a status record exists for the issue.
	HasProcessed(repoFullName string, issueNumber int) (bool, error)
	// GetStatus returns the status record for the issue, or nil.
	GetStatus(repoFullName string, issueNumber int) (*types.IssueStatus, error)
	// ListByStatus returns all records currently in the given status.
	ListByStatus(status types.IssueStatusValue) ([]types.IssueStatus, error)
	// UpsertIssueStatus replaces or inserts the record for the issue's key.
	// A prior clarification substructure is preserved when the new record
	// does not carry its own, so follow-up metadata survives status drift.
	UpsertIssueStatus(issue *types.Issue, status types.IssueStatusValue, ref *CommentRef, clarification *types.ClarificationRequest) error

	// StartTask creates an in_progress task record and returns its id.
	StartTask(spec TaskSpec) (string, error)
	// CompleteTask moves the record from current to completed exactly once.
	CompleteTask(taskID string, status types.TaskStatus) error
	// AppendTaskAction appends an entry to the task's action log.
	AppendTaskAction(taskID, actionType string, details map[string]any) error

	// CanAdmit reports whether another task may start without exceeding
	// the configured concurrency ceiling. This is a read, not a lock; see
	// the orchestrator for the serialization requirement.
	CanAdmit() (bool, error)

	// SweepStaleTasks moves in_progress tasks older than maxAge to failed.
	// Returns the number of tasks swept. Run on startup to reconcile work
	// orphaned by a process crash.
	SweepStaleTasks(maxAge time.Duration) (int, error)

	// RecordCycle increments cycle stats and refreshes the heartbeat.
	RecordCycle() error
	// RecordCommentPosted increments the posted-comment counter.
	RecordCommentPosted() error
}

// FileStore is the JSON-file-backed Store implementation.
type FileStore struct {
	path string
}

// Compile-time check that FileStore implements Store
var _ Store = (*FileStore)(nil)

// DefaultPath is the default state document location.
const DefaultPath = ".minder/state.json"

// NewFileStore creates a store backed by the JSON document at path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the backing document path.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads and deserializes the full document. If the file does not
// exist, a default document is created and persisted first.
func (f *FileStore) Load() (*types.AgentState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		state := &types.AgentState{}
		state.ApplyDefaults()
		if saveErr := f.Save(state); saveErr != nil {
			return nil, fmt.Errorf("failed to create default state document: %w", saveErr)
		}
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state document %s: %w", f.path, err)
	}

	var state types.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state document %s: %w", f.path, err)
	}
	state.ApplyDefaults()
	return &state, nil
}

// Save serializes the full document and writes it atomically
// (write temp file, then rename). LastActiveAt is refreshed on every save.
func (f *FileStore) Save(state *types.AgentState) error {
	state.LastActiveAt = time.Now().UTC()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state document: %w", err)
	}
	return nil
}

// mutate runs fn against a freshly loaded document and saves the result.
func (f *FileStore) mutate(fn func(state *types.AgentState) error) error {
	state, err := f.Load()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return f.Save(state)
}

// HasProcessed reports whether any status record exists for the issue.
func (f *FileStore) HasProcessed(repoFullName string, issueNumber int) (bool, error) {
	rec, err := f.GetStatus(repoFullName, issueNumber)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// GetStatus returns a copy of the status record for the issue, or nil if
// the issue has never been processed.
func (f *FileStore) GetStatus(repoFullName string, issueNumber int) (*types.IssueStatus, error) {
	state, err := f.Load()
	if err != nil {
		return nil, err
	}
	key := types.IssueKey(repoFullName, issueNumber)
	for i := range state.ProcessedIssues {
		if state.ProcessedIssues[i].Key() == key {
			rec := state.ProcessedIssues[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// ListByStatus returns all records currently in the given status.
func (f *FileStore) ListByStatus(status types.IssueStatusValue) ([]types.IssueStatus, error) {
	state, err := f.Load()
	if err != nil {
		return nil, err
	}
	var out []types.IssueStatus
	for _, rec := range state.ProcessedIssues {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

// UpsertIssueStatus replaces or inserts the whole record for the issue's
// key. There is never more than one record per key.
func (f *FileStore) UpsertIssueStatus(issue *types.Issue, status types.IssueStatusValue, ref *CommentRef, clarification *types.ClarificationRequest) error {
	return f.mutate(func(state *types.AgentState) error {
		rec := types.IssueStatus{
			RepoFullName:  issue.RepoFullName,
			IssueNumber:   issue.Number,
			Status:        status,
			ProcessedAt:   time.Now().UTC(),
			Clarification: clarification,
		}
		if ref != nil {
			rec.CommentID = ref.ID
			rec.CommentURL = ref.URL
		}

		for i := range state.ProcessedIssues {
			if state.ProcessedIssues[i].Key() != rec.Key() {
				continue
			}
			// Preserve the prior clarification round when the new status is
			// not itself a clarification request, so LastCheckedForResponse
			// and the original assignee survive status drift.
			if rec.Clarification == nil {
				rec.Clarification = state.ProcessedIssues[i].Clarification
			}
			state.ProcessedIssues[i] = rec
			return nil
		}

		state.ProcessedIssues = append(state.ProcessedIssues, rec)
		state.Stats.TotalIssuesProcessed++
		return nil
	})
}

// newTaskID derives an opaque task id from the current time plus randomness.
func newTaskID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// StartTask creates an in_progress task record in CurrentTasks.
func (f *FileStore) StartTask(spec TaskSpec) (string, error) {
	id := newTaskID()
	err := f.mutate(func(state *types.AgentState) error {
		state.CurrentTasks = append(state.CurrentTasks, types.TaskRecord{
			ID:           id,
			Type:         spec.Type,
			IssueNumber:  spec.IssueNumber,
			RepoFullName: spec.RepoFullName,
			Status:       types.TaskInProgress,
			StartedAt:    time.Now().UTC(),
			Context:      spec.Context,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CompleteTask moves the task record from CurrentTasks to CompletedTasks
// with the given terminal status. Completing an unknown task is an error.
func (f *FileStore) CompleteTask(taskID string, status types.TaskStatus) error {
	return f.mutate(func(state *types.AgentState) error {
		for i := range state.CurrentTasks {
			if state.CurrentTasks[i].ID != taskID {
				continue
			}
			task := state.CurrentTasks[i]
			now := time.Now().UTC()
			task.Status = status
			task.CompletedAt = &now
			state.CurrentTasks = append(state.CurrentTasks[:i], state.CurrentTasks[i+1:]...)
			state.CompletedTasks = append(state.CompletedTasks, task)
			return nil
		}
		return fmt.Errorf("task %s not found in current tasks", taskID)
	})
}

// AppendTaskAction appends an entry to the task's ordered action log.
func (f *FileStore) AppendTaskAction(taskID, actionType string, details map[string]any) error {
	return f.mutate(func(state *types.AgentState) error {
		for i := range state.CurrentTasks {
			if state.CurrentTasks[i].ID != taskID {
				continue
			}
			state.CurrentTasks[i].Actions = append(state.CurrentTasks[i].Actions, types.TaskAction{
				Type:      actionType,
				Timestamp: time.Now().UTC(),
				Details:   details,
			})
			return nil
		}
		return fmt.Errorf("task %s not found in current tasks", taskID)
	})
}

// CanAdmit reports whether the number of in-flight tasks is below the
// configured ceiling.
func (f *FileStore) CanAdmit() (bool, error) {
	state, err := f.Load()
	if err != nil {
		return false, err
	}
	return len(state.CurrentTasks) < state.Config.MaxConcurrentTasks, nil
}

// SweepStaleTasks reconciles tasks orphaned by a crash: any in_progress
// task older than maxAge is moved to completed with failed status.
func (f *FileStore) SweepStaleTasks(maxAge time.Duration) (int, error) {
	swept := 0
	err := f.mutate(func(state *types.AgentState) error {
		cutoff := time.Now().UTC().Add(-maxAge)
		var remaining []types.TaskRecord
		for _, task := range state.CurrentTasks {
			if task.Status == types.TaskInProgress && task.StartedAt.Before(cutoff) {
				now := time.Now().UTC()
				task.Status = types.TaskFailed
				task.CompletedAt = &now
				task.Actions = append(task.Actions, types.TaskAction{
					Type:      "stale_sweep",
					Timestamp: now,
					Details:   map[string]any{"max_age": maxAge.String()},
				})
				state.CompletedTasks = append(state.CompletedTasks, task)
				swept++
				continue
			}
			remaining = append(remaining, task)
		}
		if remaining == nil {
			remaining = []types.TaskRecord{}
		}
		state.CurrentTasks = remaining
		return nil
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}

// RecordCycle increments the cycle counter and records the heartbeat.
func (f *FileStore) RecordCycle() error {
	return f.mutate(func(state *types.AgentState) error {
		state.Stats.TotalCyclesRun++
		state.Stats.LastCycleAt = time.Now().UTC()
		return nil
	})
}

// RecordCommentPosted increments the posted-comment counter.
func (f *FileStore) RecordCommentPosted() error {
	return f.mutate(func(state *types.AgentState) error {
		state.Stats.TotalCommentsPosted++
		return nil
	})
}
