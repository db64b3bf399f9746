package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/minder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "state.json"))
}

func testIssue(number int) *types.Issue {
	return &types.Issue{
		RepoFullName: "acme/widgets",
		Number:       number,
		Title:        "Add dark mode",
		Author:       "alice",
	}
}

func TestLoadCreatesDefaultDocument(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Load()
	require.NoError(t, err)

	assert.NotNil(t, state.ProcessedIssues)
	assert.Equal(t, types.DefaultMaxConcurrentTasks, state.Config.MaxConcurrentTasks)

	// The default document must have been persisted
	_, err = os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestUpsertIssueStatusIdempotent(t *testing.T) {
	store := newTestStore(t)
	issue := testIssue(42)

	processed, err := store.HasProcessed(issue.RepoFullName, issue.Number)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.UpsertIssueStatus(issue, types.StatusResponded, nil, nil))

	processed, err = store.HasProcessed(issue.RepoFullName, issue.Number)
	require.NoError(t, err)
	assert.True(t, processed)

	// A repeated upsert with the same key overwrites rather than duplicates
	require.NoError(t, store.UpsertIssueStatus(issue, types.StatusDevelopmentCompleted, nil, nil))

	state, err := store.Load()
	require.NoError(t, err)
	count := 0
	for _, rec := range state.ProcessedIssues {
		if rec.Key() == issue.Key() {
			count++
			assert.Equal(t, types.StatusDevelopmentCompleted, rec.Status)
		}
	}
	assert.Equal(t, 1, count, "expected exactly one record for the key")
}

// TestUpsertPreservesClarification verifies the clarification substructure
// survives a status transition that does not carry its own.
func TestUpsertPreservesClarification(t *testing.T) {
	store := newTestStore(t)
	issue := testIssue(7)

	clar := &types.ClarificationRequest{
		RequestedAt:      time.Now().UTC(),
		Questions:        []string{"Which API version?"},
		OriginalAssignee: "alice",
	}
	require.NoError(t, store.UpsertIssueStatus(issue, types.StatusAwaitingClarification, nil, clar))

	// Status drifts without a clarification payload
	require.NoError(t, store.UpsertIssueStatus(issue, types.StatusClarificationReceived, nil, nil))

	rec, err := store.GetStatus(issue.RepoFullName, issue.Number)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Clarification, "clarification metadata must survive status drift")
	assert.Equal(t, []string{"Which API version?"}, rec.Clarification.Questions)
	assert.Equal(t, "alice", rec.Clarification.OriginalAssignee)
}

func TestTaskLifecycle(t *testing.T) {
	store := newTestStore(t)

	id, err := store.StartTask(TaskSpec{
		Type:         "development",
		IssueNumber:  42,
		RepoFullName: "acme/widgets",
		Context:      map[string]string{"trigger": "label"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, store.AppendTaskAction(id, "vm_provisioned", map[string]any{"vm_id": 123}))

	state, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.CurrentTasks, 1)
	assert.Equal(t, types.TaskInProgress, state.CurrentTasks[0].Status)
	require.Len(t, state.CurrentTasks[0].Actions, 1)
	assert.Equal(t, "vm_provisioned", state.CurrentTasks[0].Actions[0].Type)

	require.NoError(t, store.CompleteTask(id, types.TaskCompleted))

	state, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, state.CurrentTasks)
	require.Len(t, state.CompletedTasks, 1)
	assert.Equal(t, types.TaskCompleted, state.CompletedTasks[0].Status)
	assert.NotNil(t, state.CompletedTasks[0].CompletedAt)

	// Completing twice is an error, not a silent duplicate
	assert.Error(t, store.CompleteTask(id, types.TaskCompleted))
}

func TestCanAdmit(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Load()
	require.NoError(t, err)
	state.Config.MaxConcurrentTasks = 1
	require.NoError(t, store.Save(state))

	ok, err := store.CanAdmit()
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.StartTask(TaskSpec{Type: "development", IssueNumber: 1, RepoFullName: "acme/widgets"})
	require.NoError(t, err)

	ok, err = store.CanAdmit()
	require.NoError(t, err)
	assert.False(t, ok, "gate must deny once the ceiling is reached")
}

func TestSweepStaleTasks(t *testing.T) {
	store := newTestStore(t)

	_, err := store.StartTask(TaskSpec{Type: "development", IssueNumber: 1, RepoFullName: "acme/widgets"})
	require.NoError(t, err)
	freshID, err := store.StartTask(TaskSpec{Type: "development", IssueNumber: 2, RepoFullName: "acme/widgets"})
	require.NoError(t, err)

	// Age the first task beyond the threshold
	state, err := store.Load()
	require.NoError(t, err)
	state.CurrentTasks[0].StartedAt = time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, store.Save(state))

	swept, err := store.SweepStaleTasks(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	state, err = store.Load()
	require.NoError(t, err)
	require.Len(t, state.CurrentTasks, 1)
	assert.Equal(t, freshID, state.CurrentTasks[0].ID)
	require.Len(t, state.CompletedTasks, 1)
	assert.Equal(t, types.TaskFailed, state.CompletedTasks[0].Status)
}

func TestSaveIsAtomic(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(state))

	// No temp files left behind after a save
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "state.json", e.Name())
	}
}

func TestRecordCycleAndComments(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordCycle())
	require.NoError(t, store.RecordCycle())
	require.NoError(t, store.RecordCommentPosted())

	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, state.Stats.TotalCyclesRun)
	assert.Equal(t, 1, state.Stats.TotalCommentsPosted)
	assert.False(t, state.Stats.LastCycleAt.IsZero())
}
