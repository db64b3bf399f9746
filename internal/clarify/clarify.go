// Package clarify implements the clarification state machine: deciding
// whether an issue is actionable, asking the reporter questions when it is
// not, and advancing or holding the issue as answers arrive.
package clarify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/minder/internal/ai"
	"github.com/steveyegge/minder/internal/repoconfig"
	"github.com/steveyegge/minder/internal/state"
	"github.com/steveyegge/minder/internal/tracker"
	"github.com/steveyegge/minder/internal/types"
)

// Assessor is the reasoning surface the machine needs. *ai.Supervisor
// satisfies it.
type Assessor interface {
	AssessIssue(ctx context.Context, issue *types.Issue) (*ai.Triage, error)
	ClassifyResponse(ctx context.Context, issue *types.Issue, questions []string, response string) (*ai.ResponseClassification, error)
}

// Config holds the machine's collaborators.
type Config struct {
	Tracker  tracker.Client
	Store    state.Store
	Assessor Assessor
	Labels   repoconfig.LabelConfig
}

// Machine drives clarification rounds for issues.
type Machine struct {
	config Config
}

// NewMachine creates a clarification machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("Tracker cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store cannot be nil")
	}
	if cfg.Assessor == nil {
		return nil, fmt.Errorf("Assessor cannot be nil")
	}
	return &Machine{config: cfg}, nil
}

// Assess triages the issue. A ready outcome returns without side effects;
// the caller proceeds to development. Needs-clarification and reconsider
// both open a clarification round: the questions (or the reconsideration
// rationale) are posted, the trigger label is swapped for the needs-human
// label, and the issue is persisted as awaiting clarification so the
// follow-up machinery picks it up.
func (m *Machine) Assess(ctx context.Context, issue *types.Issue) (*ai.Triage, error) {
	triage, err := m.config.Assessor.AssessIssue(ctx, issue)
	if err != nil {
		return nil, fmt.Errorf("failed to assess %s: %w", issue.Key(), err)
	}

	if triage.Outcome == ai.OutcomeReady {
		return triage, nil
	}

	questions := triage.Questions
	if triage.Outcome == ai.OutcomeReconsider {
		reason := triage.Reasoning
		if reason == "" {
			reason = "This issue may not need the change it describes. Could you confirm it should proceed as written?"
		}
		questions = []string{reason}
	}
	if len(questions) == 0 {
		questions = []string{"Could you add more detail about what this issue should accomplish?"}
	}

	if err := m.requestClarification(ctx, issue, questions); err != nil {
		return nil, err
	}
	return triage, nil
}

// requestClarification posts the questions, swaps labels, and persists the
// awaiting record. The comment is posted before the status is persisted so
// a crash between the two leaves a visible comment, which the comment-
// presence check treats as already-processed.
func (m *Machine) requestClarification(ctx context.Context, issue *types.Issue, questions []string) error {
	body := buildQuestionComment(issue.Author, questions)
	comment, err := m.config.Tracker.PostComment(ctx, issue.RepoFullName, issue.Number, body)
	if err != nil {
		return fmt.Errorf("failed to post clarification on %s: %w", issue.Key(), err)
	}
	if err := m.config.Store.RecordCommentPosted(); err != nil {
		return err
	}

	m.swapLabels(ctx, issue, m.config.Labels.Trigger, m.config.Labels.NeedsHuman)

	originalAssignee := ""
	if len(issue.Assignees) > 0 {
		originalAssignee = issue.Assignees[0]
	} else if issue.Author != "" {
		// Nobody owns the issue yet, so route the questions to the reporter.
		// Like labels, assignment is cosmetic next to the durable record.
		if err := m.config.Tracker.Assign(ctx, issue.RepoFullName, issue.Number, []string{issue.Author}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to assign %s to @%s: %v\n", issue.Key(), issue.Author, err)
		}
	}

	clarification := &types.ClarificationRequest{
		RequestedAt:      time.Now().UTC(),
		Questions:        questions,
		OriginalAssignee: originalAssignee,
	}
	ref := &state.CommentRef{ID: comment.ID, URL: comment.URL}
	if err := m.config.Store.UpsertIssueStatus(issue, types.StatusAwaitingClarification, ref, clarification); err != nil {
		return fmt.Errorf("failed to persist awaiting status for %s: %w", issue.Key(), err)
	}

	fmt.Printf("Requested clarification on %s (%d questions)\n", issue.Key(), len(questions))
	return nil
}

// CheckForResponses examines one awaiting-clarification record for new
// human comments and advances, holds, or re-asks per the classification.
// An unparseable classification changes nothing except the last-checked
// timestamp: never silently advance on input we did not understand.
func (m *Machine) CheckForResponses(ctx context.Context, record *types.IssueStatus) error {
	if record.Clarification == nil {
		return fmt.Errorf("record %s has no clarification round", record.Key())
	}

	issue, err := m.config.Tracker.GetIssue(ctx, record.RepoFullName, record.IssueNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", record.Key(), err)
	}

	comments, err := m.config.Tracker.ListCommentsSince(ctx, record.RepoFullName, record.IssueNumber, record.Clarification.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to list comments on %s: %w", record.Key(), err)
	}

	response := collectResponses(comments, m.config.Tracker.BotLogin(), record.Clarification.RequestedAt)
	if response == "" {
		return m.touchLastChecked(issue, record)
	}

	classification, err := m.config.Assessor.ClassifyResponse(ctx, issue, record.Clarification.Questions, response)
	if err != nil {
		return fmt.Errorf("failed to classify response on %s: %w", record.Key(), err)
	}

	switch classification.Class {
	case ai.ResponseFullyAnswers:
		return m.acceptResponse(ctx, issue, record)
	case ai.ResponsePartiallyAnswers:
		questions := classification.FollowUpQuestions
		if len(questions) == 0 {
			questions = record.Clarification.Questions
		}
		return m.reask(ctx, issue, record, questions,
			"Thanks! That answers part of it. A few things are still open:")
	case ai.ResponseAmbiguous:
		return m.reask(ctx, issue, record, record.Clarification.Questions,
			"Thanks for the reply. I could not quite map it to the open questions; could you take another look?")
	default:
		// Unparseable classifier output: hold state, remember we looked.
		fmt.Fprintf(os.Stderr, "warning: unparseable response classification on %s, holding state\n", record.Key())
		return m.touchLastChecked(issue, record)
	}
}

// acceptResponse closes the clarification round: acknowledge, restore the
// trigger label, and mark the issue clarification_received so the next
// cycle treats it as actionable.
func (m *Machine) acceptResponse(ctx context.Context, issue *types.Issue, record *types.IssueStatus) error {
	body := fmt.Sprintf("Thanks @%s, that answers my questions. Picking this back up now.", issue.Author)
	comment, err := m.config.Tracker.PostComment(ctx, issue.RepoFullName, issue.Number, body)
	if err != nil {
		return fmt.Errorf("failed to acknowledge response on %s: %w", issue.Key(), err)
	}
	if err := m.config.Store.RecordCommentPosted(); err != nil {
		return err
	}

	m.swapLabels(ctx, issue, m.config.Labels.NeedsHuman, m.config.Labels.Trigger)

	clarification := *record.Clarification
	clarification.LastCheckedForResponse = time.Now().UTC()
	ref := &state.CommentRef{ID: comment.ID, URL: comment.URL}
	if err := m.config.Store.UpsertIssueStatus(issue, types.StatusClarificationReceived, ref, &clarification); err != nil {
		return fmt.Errorf("failed to persist clarification_received for %s: %w", issue.Key(), err)
	}

	fmt.Printf("Clarification received on %s\n", issue.Key())
	return nil
}

// reask posts follow-up questions and starts a new round: RequestedAt is
// advanced so the next check only considers comments newer than the
// follow-up, and the open questions become the follow-ups.
func (m *Machine) reask(ctx context.Context, issue *types.Issue, record *types.IssueStatus, questions []string, preamble string) error {
	body := preamble + "\n" + formatQuestions(questions)
	comment, err := m.config.Tracker.PostComment(ctx, issue.RepoFullName, issue.Number, body)
	if err != nil {
		return fmt.Errorf("failed to post follow-up on %s: %w", issue.Key(), err)
	}
	if err := m.config.Store.RecordCommentPosted(); err != nil {
		return err
	}

	now := time.Now().UTC()
	clarification := &types.ClarificationRequest{
		RequestedAt:            now,
		Questions:              questions,
		OriginalAssignee:       record.Clarification.OriginalAssignee,
		LastCheckedForResponse: now,
	}
	ref := &state.CommentRef{ID: comment.ID, URL: comment.URL}
	if err := m.config.Store.UpsertIssueStatus(issue, types.StatusAwaitingClarification, ref, clarification); err != nil {
		return fmt.Errorf("failed to persist follow-up round for %s: %w", issue.Key(), err)
	}

	fmt.Printf("Posted follow-up on %s (%d questions)\n", issue.Key(), len(questions))
	return nil
}

// touchLastChecked persists only the last-checked timestamp, keeping the
// status and questions as they are.
func (m *Machine) touchLastChecked(issue *types.Issue, record *types.IssueStatus) error {
	clarification := *record.Clarification
	clarification.LastCheckedForResponse = time.Now().UTC()
	return m.config.Store.UpsertIssueStatus(issue, record.Status, nil, &clarification)
}

// swapLabels removes one label and adds another. Label drift is cosmetic
// next to the durable record, so failures are warnings, not errors.
func (m *Machine) swapLabels(ctx context.Context, issue *types.Issue, remove, add string) {
	if remove != "" {
		if err := m.config.Tracker.RemoveLabel(ctx, issue.RepoFullName, issue.Number, remove); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove label %q from %s: %v\n", remove, issue.Key(), err)
		}
	}
	if add != "" {
		if err := m.config.Tracker.AddLabels(ctx, issue.RepoFullName, issue.Number, []string{add}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to add label %q to %s: %v\n", add, issue.Key(), err)
		}
	}
}

// collectResponses joins the bodies of human comments newer than since.
func collectResponses(comments []*tracker.Comment, botLogin string, since time.Time) string {
	var parts []string
	for _, comment := range comments {
		if comment.Author == botLogin {
			continue
		}
		if !comment.CreatedAt.After(since) {
			continue
		}
		parts = append(parts, comment.Body)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// buildQuestionComment renders the initial clarification comment.
func buildQuestionComment(author string, questions []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hi @%s! Before I can start on this, I need a bit more detail:\n", author)
	sb.WriteString(formatQuestions(questions))
	sb.WriteString("\nI've marked this as needing human input; answer here and I'll pick it back up automatically.")
	return sb.String()
}

func formatQuestions(questions []string) string {
	var sb strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, q)
	}
	return sb.String()
}
