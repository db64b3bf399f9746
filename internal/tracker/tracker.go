// Package tracker wraps the issue tracker (GitHub): reading candidate
// issues and comments, and writing comments, labels, and assignments.
// It carries no state machine of its own; all judgment lives in the
// clarify and orchestrator packages.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/minder/internal/types"
)

// Comment is minder's view of an issue comment.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	URL       string
	CreatedAt time.Time
}

// Client defines the tracker operations minder needs.
type Client interface {
	// ListCandidateIssues returns open issues carrying the given label.
	// Pull requests are excluded.
	ListCandidateIssues(ctx context.Context, repoFullName, label string) ([]*types.Issue, error)
	// GetIssue fetches one issue.
	GetIssue(ctx context.Context, repoFullName string, number int) (*types.Issue, error)
	// ListCommentsSince returns comments created after since, oldest first.
	ListCommentsSince(ctx context.Context, repoFullName string, number int, since time.Time) ([]*Comment, error)
	// PostComment posts a comment and returns its reference.
	PostComment(ctx context.Context, repoFullName string, number int, body string) (*Comment, error)
	// AddLabels adds labels to an issue.
	AddLabels(ctx context.Context, repoFullName string, number int, labels []string) error
	// RemoveLabel removes a label; a label that is already absent is not an error.
	RemoveLabel(ctx context.Context, repoFullName string, number int, label string) error
	// Assign assigns users to an issue.
	Assign(ctx context.Context, repoFullName string, number int, assignees []string) error
	// BotLogin returns the authenticated account's login, used to exclude
	// minder's own comments from response detection.
	BotLogin() string
	// HasBotComment reports whether the bot has already commented on the
	// issue. Comment presence is a stronger signal than the local state
	// record: it survives state loss.
	HasBotComment(ctx context.Context, repoFullName string, number int) (bool, error)
}

// splitRepo splits "owner/name" into its parts.
func splitRepo(repoFullName string) (owner, name string, err error) {
	parts := strings.SplitN(repoFullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q (want owner/name)", repoFullName)
	}
	return parts[0], parts[1], nil
}
