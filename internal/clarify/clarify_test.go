package clarify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/minder/internal/ai"
	"github.com/steveyegge/minder/internal/repoconfig"
	"github.com/steveyegge/minder/internal/state"
	"github.com/steveyegge/minder/internal/tracker"
	"github.com/steveyegge/minder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const botLogin = "minder-bot"

type labelOp struct {
	number int
	label  string
}

type fakeTracker struct {
	issues        map[int]*types.Issue
	comments      map[int][]*tracker.Comment
	posted        []string
	addedLabels   []labelOp
	removedLabels []labelOp
	assigned      []string
	nextCommentID int64
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:   map[int]*types.Issue{},
		comments: map[int][]*tracker.Comment{},
	}
}

func (f *fakeTracker) ListCandidateIssues(ctx context.Context, repo, label string) ([]*types.Issue, error) {
	var out []*types.Issue
	for _, issue := range f.issues {
		if issue.HasLabel(label) {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (f *fakeTracker) GetIssue(ctx context.Context, repo string, number int) (*types.Issue, error) {
	return f.issues[number], nil
}

func (f *fakeTracker) ListCommentsSince(ctx context.Context, repo string, number int, since time.Time) ([]*tracker.Comment, error) {
	var out []*tracker.Comment
	for _, c := range f.comments[number] {
		if since.IsZero() || c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeTracker) PostComment(ctx context.Context, repo string, number int, body string) (*tracker.Comment, error) {
	f.nextCommentID++
	f.posted = append(f.posted, body)
	comment := &tracker.Comment{
		ID:        f.nextCommentID,
		Author:    botLogin,
		Body:      body,
		CreatedAt: time.Now(),
	}
	f.comments[number] = append(f.comments[number], comment)
	return comment, nil
}

func (f *fakeTracker) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	for _, l := range labels {
		f.addedLabels = append(f.addedLabels, labelOp{number, l})
	}
	return nil
}

func (f *fakeTracker) RemoveLabel(ctx context.Context, repo string, number int, label string) error {
	f.removedLabels = append(f.removedLabels, labelOp{number, label})
	return nil
}

func (f *fakeTracker) Assign(ctx context.Context, repo string, number int, assignees []string) error {
	f.assigned = append(f.assigned, assignees...)
	return nil
}

func (f *fakeTracker) BotLogin() string { return botLogin }

func (f *fakeTracker) HasBotComment(ctx context.Context, repo string, number int) (bool, error) {
	for _, c := range f.comments[number] {
		if c.Author == botLogin {
			return true, nil
		}
	}
	return false, nil
}

type fakeAssessor struct {
	triage         *ai.Triage
	classification *ai.ResponseClassification
	classified     [][]string // questions passed to each ClassifyResponse call
}

func (f *fakeAssessor) AssessIssue(ctx context.Context, issue *types.Issue) (*ai.Triage, error) {
	return f.triage, nil
}

func (f *fakeAssessor) ClassifyResponse(ctx context.Context, issue *types.Issue, questions []string, response string) (*ai.ResponseClassification, error) {
	f.classified = append(f.classified, questions)
	return f.classification, nil
}

func testIssue(number int) *types.Issue {
	return &types.Issue{
		RepoFullName: "acme/widgets",
		Number:       number,
		Title:        "Add dark mode",
		Body:         "Make it dark.",
		Labels:       []string{"minder"},
		Author:       "alice",
		Assignees:    []string{"alice"},
		CreatedAt:    time.Now().Add(-time.Hour),
	}
}

func newTestMachine(t *testing.T, tr *fakeTracker, assessor *fakeAssessor) (*Machine, state.Store) {
	t.Helper()
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	m, err := NewMachine(Config{
		Tracker:  tr,
		Store:    store,
		Assessor: assessor,
		Labels:   repoconfig.DefaultConfig().Labels,
	})
	require.NoError(t, err)
	return m, store
}

func TestAssessReadyHasNoSideEffects(t *testing.T) {
	tr := newFakeTracker()
	m, store := newTestMachine(t, tr, &fakeAssessor{triage: &ai.Triage{Outcome: ai.OutcomeReady}})

	triage, err := m.Assess(context.Background(), testIssue(7))
	require.NoError(t, err)

	assert.Equal(t, ai.OutcomeReady, triage.Outcome)
	assert.Empty(t, tr.posted)
	processed, err := store.HasProcessed("acme/widgets", 7)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestClarificationRoundTrip(t *testing.T) {
	// Issue needs clarification, the human answers fully, and the issue
	// comes back as actionable.
	tr := newFakeTracker()
	issue := testIssue(42)
	tr.issues[42] = issue

	assessor := &fakeAssessor{
		triage: &ai.Triage{
			Outcome:   ai.OutcomeNeedsClarification,
			Questions: []string{"Which screens need dark mode?", "Is there a design spec?"},
		},
	}
	m, store := newTestMachine(t, tr, assessor)

	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)

	// Questions posted, labels swapped, awaiting record persisted.
	require.Len(t, tr.posted, 1)
	assert.Contains(t, tr.posted[0], "@alice")
	assert.Contains(t, tr.posted[0], "Which screens need dark mode?")
	assert.Equal(t, []labelOp{{42, "minder"}}, tr.removedLabels)
	assert.Equal(t, []labelOp{{42, "minder:needs-human"}}, tr.addedLabels)

	record, err := store.GetStatus("acme/widgets", 42)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.StatusAwaitingClarification, record.Status)
	require.NotNil(t, record.Clarification)
	assert.Len(t, record.Clarification.Questions, 2)
	assert.Equal(t, "alice", record.Clarification.OriginalAssignee)
	assert.NotZero(t, record.CommentID)

	// The human answers everything.
	tr.comments[42] = append(tr.comments[42], &tracker.Comment{
		ID:        99,
		Author:    "alice",
		Body:      "All screens; spec is in Figma, link in the description.",
		CreatedAt: time.Now(),
	})
	assessor.classification = &ai.ResponseClassification{Class: ai.ResponseFullyAnswers}

	require.NoError(t, m.CheckForResponses(context.Background(), record))

	// Acknowledged, relabeled back, marked clarification_received.
	require.Len(t, tr.posted, 2)
	assert.Contains(t, tr.posted[1], "answers my questions")
	assert.Equal(t, []labelOp{{42, "minder"}, {42, "minder:needs-human"}}, tr.removedLabels)
	assert.Equal(t, []labelOp{{42, "minder:needs-human"}, {42, "minder"}}, tr.addedLabels)

	record, err = store.GetStatus("acme/widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClarificationReceived, record.Status)
	assert.False(t, record.Clarification.LastCheckedForResponse.IsZero())

	// The classifier saw the original questions.
	require.Len(t, assessor.classified, 1)
	assert.Len(t, assessor.classified[0], 2)
}

func TestAssessReconsiderOpensRound(t *testing.T) {
	tr := newFakeTracker()
	issue := testIssue(8)
	tr.issues[8] = issue

	m, store := newTestMachine(t, tr, &fakeAssessor{
		triage: &ai.Triage{
			Outcome:   ai.OutcomeReconsider,
			Reasoning: "The behavior described already exists behind the theme toggle.",
		},
	})

	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)

	require.Len(t, tr.posted, 1)
	assert.Contains(t, tr.posted[0], "theme toggle")

	record, err := store.GetStatus("acme/widgets", 8)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingClarification, record.Status)
}

func TestUnassignedIssueIsRoutedToReporter(t *testing.T) {
	tr := newFakeTracker()
	issue := testIssue(9)
	issue.Assignees = nil
	tr.issues[9] = issue

	m, store := newTestMachine(t, tr, &fakeAssessor{
		triage: &ai.Triage{
			Outcome:   ai.OutcomeNeedsClarification,
			Questions: []string{"Which screens need dark mode?"},
		},
	})

	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, tr.assigned)

	record, err := store.GetStatus("acme/widgets", 9)
	require.NoError(t, err)
	assert.Empty(t, record.Clarification.OriginalAssignee)
}

func TestAssignedIssueIsNotReassigned(t *testing.T) {
	tr := newFakeTracker()
	issue := testIssue(10)
	tr.issues[10] = issue

	m, _ := newTestMachine(t, tr, &fakeAssessor{
		triage: &ai.Triage{
			Outcome:   ai.OutcomeNeedsClarification,
			Questions: []string{"Is there a design doc?"},
		},
	})

	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)

	assert.Empty(t, tr.assigned)
}

func TestCheckNoResponseOnlyTouchesTimestamp(t *testing.T) {
	tr := newFakeTracker()
	issue := testIssue(9)
	tr.issues[9] = issue

	assessor := &fakeAssessor{
		triage: &ai.Triage{Outcome: ai.OutcomeNeedsClarification, Questions: []string{"q1"}},
	}
	m, store := newTestMachine(t, tr, assessor)
	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)

	record, err := store.GetStatus("acme/widgets", 9)
	require.NoError(t, err)

	require.NoError(t, m.CheckForResponses(context.Background(), record))

	// No new comment, no classification, state held.
	assert.Len(t, tr.posted, 1)
	assert.Empty(t, assessor.classified)
	record, err = store.GetStatus("acme/widgets", 9)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingClarification, record.Status)
	assert.False(t, record.Clarification.LastCheckedForResponse.IsZero())
}

func TestCheckBotCommentsAreNotResponses(t *testing.T) {
	tr := newFakeTracker()
	issue := testIssue(10)
	tr.issues[10] = issue

	assessor := &fakeAssessor{
		triage: &ai.Triage{Outcome: ai.OutcomeNeedsClarification, Questions: []string{"q1"}},
	}
	m, store := newTestMachine(t, tr, assessor)
	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)

	// Only the bot has commented since the request.
	tr.comments[10] = append(tr.comments[10], &tracker.Comment{
		ID: 50, Author: botLogin, Body: "still waiting", CreatedAt: time.Now(),
	})

	record, err := store.GetStatus("acme/widgets", 10)
	require.NoError(t, err)
	require.NoError(t, m.CheckForResponses(context.Background(), record))
	assert.Empty(t, assessor.classified)
}

func TestCheckPartialAnswerPostsFollowUps(t *testing.T) {
	tr := newFakeTracker()
	issue := testIssue(11)
	tr.issues[11] = issue

	assessor := &fakeAssessor{
		triage: &ai.Triage{Outcome: ai.OutcomeNeedsClarification, Questions: []string{"q1", "q2"}},
	}
	m, store := newTestMachine(t, tr, assessor)
	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)
	record, err := store.GetStatus("acme/widgets", 11)
	require.NoError(t, err)
	firstRoundAt := record.Clarification.RequestedAt

	tr.comments[11] = append(tr.comments[11], &tracker.Comment{
		ID: 60, Author: "alice", Body: "q1: settings screen only", CreatedAt: time.Now(),
	})
	assessor.classification = &ai.ResponseClassification{
		Class:             ai.ResponsePartiallyAnswers,
		FollowUpQuestions: []string{"Still: should the login screen change too?"},
	}

	require.NoError(t, m.CheckForResponses(context.Background(), record))

	require.Len(t, tr.posted, 2)
	assert.Contains(t, tr.posted[1], "login screen")

	record, err = store.GetStatus("acme/widgets", 11)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingClarification, record.Status)
	assert.Equal(t, []string{"Still: should the login screen change too?"}, record.Clarification.Questions)
	// A new round begins so the same human comment is not re-classified.
	assert.True(t, record.Clarification.RequestedAt.After(firstRoundAt))
}

func TestCheckUnparseableClassificationHoldsState(t *testing.T) {
	tr := newFakeTracker()
	issue := testIssue(12)
	tr.issues[12] = issue

	assessor := &fakeAssessor{
		triage: &ai.Triage{Outcome: ai.OutcomeNeedsClarification, Questions: []string{"q1"}},
	}
	m, store := newTestMachine(t, tr, assessor)
	_, err := m.Assess(context.Background(), issue)
	require.NoError(t, err)
	record, err := store.GetStatus("acme/widgets", 12)
	require.NoError(t, err)

	tr.comments[12] = append(tr.comments[12], &tracker.Comment{
		ID: 70, Author: "alice", Body: "maybe? idk", CreatedAt: time.Now(),
	})
	assessor.classification = &ai.ResponseClassification{Class: ai.ResponseUnparseable}

	require.NoError(t, m.CheckForResponses(context.Background(), record))

	// No new comment, no label movement, still awaiting.
	assert.Len(t, tr.posted, 1)
	record, err = store.GetStatus("acme/widgets", 12)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingClarification, record.Status)
	assert.Equal(t, []string{"q1"}, record.Clarification.Questions)
	assert.False(t, record.Clarification.LastCheckedForResponse.IsZero())
}
