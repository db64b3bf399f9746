package tracker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/steveyegge/minder/internal/types"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	gh       *github.Client
	limiter  *rate.Limiter
	botLogin string
}

// Compile-time check that GitHubClient implements Client
var _ Client = (*GitHubClient)(nil)

// NewGitHubClient creates a tracker client. If token is empty it reads
// GITHUB_TOKEN from the environment. The client resolves and caches the
// authenticated login up front so a bad token fails at startup, not
// mid-cycle.
func NewGitHubClient(ctx context.Context, token string) (*GitHubClient, error) {
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
		if token == "" {
			return nil, fmt.Errorf("GITHUB_TOKEN not set")
		}
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, src)

	c := &GitHubClient{
		gh: github.NewClient(httpClient),
		// Secondary rate limits kick in well below the documented 5000/hr
		// when writes burst; 1 request per 750ms keeps us clear.
		limiter: rate.NewLimiter(rate.Every(750*time.Millisecond), 3),
	}

	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve authenticated user: %w", err)
	}
	c.botLogin = user.GetLogin()
	return c, nil
}

// BotLogin returns the authenticated account's login.
func (c *GitHubClient) BotLogin() string {
	return c.botLogin
}

func (c *GitHubClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}

// ListCandidateIssues returns open issues carrying the label, excluding PRs.
func (c *GitHubClient) ListCandidateIssues(ctx context.Context, repoFullName, label string) ([]*types.Issue, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	var out []*types.Issue
	opts := &github.IssueListByRepoOptions{
		Labels:      []string{label},
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues for %s: %w", repoFullName, err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, issueFromGitHub(repoFullName, issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// GetIssue fetches one issue.
func (c *GitHubClient) GetIssue(ctx context.Context, repoFullName string, number int) (*types.Issue, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	issue, _, err := c.gh.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s#%d: %w", repoFullName, number, err)
	}
	return issueFromGitHub(repoFullName, issue), nil
}

// ListCommentsSince returns comments created after since, oldest first.
func (c *GitHubClient) ListCommentsSince(ctx context.Context, repoFullName string, number int, since time.Time) ([]*Comment, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	var out []*Comment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if !since.IsZero() {
		opts.Since = &since
	}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments for %s#%d: %w", repoFullName, number, err)
		}
		for _, comment := range comments {
			out = append(out, &Comment{
				ID:        comment.GetID(),
				Author:    comment.GetUser().GetLogin(),
				Body:      comment.GetBody(),
				URL:       comment.GetHTMLURL(),
				CreatedAt: comment.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// PostComment posts a comment on the issue.
func (c *GitHubClient) PostComment(ctx context.Context, repoFullName string, number int, body string) (*Comment, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post comment on %s#%d: %w", repoFullName, number, err)
	}
	return &Comment{
		ID:        comment.GetID(),
		Author:    comment.GetUser().GetLogin(),
		Body:      comment.GetBody(),
		URL:       comment.GetHTMLURL(),
		CreatedAt: comment.GetCreatedAt().Time,
	}, nil
}

// AddLabels adds labels to the issue.
func (c *GitHubClient) AddLabels(ctx context.Context, repoFullName string, number int, labels []string) error {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, name, number, labels); err != nil {
		return fmt.Errorf("failed to add labels to %s#%d: %w", repoFullName, number, err)
	}
	return nil
}

// RemoveLabel removes a label from the issue. Removing a label that is
// already absent is treated as success.
func (c *GitHubClient) RemoveLabel(ctx context.Context, repoFullName string, number int, label string) error {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.gh.Issues.RemoveLabelForIssue(ctx, owner, name, number, label)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to remove label %q from %s#%d: %w", label, repoFullName, number, err)
	}
	return nil
}

// Assign assigns users to the issue.
func (c *GitHubClient) Assign(ctx context.Context, repoFullName string, number int, assignees []string) error {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, _, err := c.gh.Issues.AddAssignees(ctx, owner, name, number, assignees); err != nil {
		return fmt.Errorf("failed to assign %v on %s#%d: %w", assignees, repoFullName, number, err)
	}
	return nil
}

// HasBotComment reports whether the bot already commented on the issue.
func (c *GitHubClient) HasBotComment(ctx context.Context, repoFullName string, number int) (bool, error) {
	comments, err := c.ListCommentsSince(ctx, repoFullName, number, time.Time{})
	if err != nil {
		return false, err
	}
	for _, comment := range comments {
		if comment.Author == c.botLogin {
			return true, nil
		}
	}
	return false, nil
}

// issueFromGitHub converts a GitHub issue to minder's view.
func issueFromGitHub(repoFullName string, issue *github.Issue) *types.Issue {
	out := &types.Issue{
		RepoFullName: repoFullName,
		Number:       issue.GetNumber(),
		Title:        issue.GetTitle(),
		Body:         issue.GetBody(),
		Author:       issue.GetUser().GetLogin(),
		CreatedAt:    issue.GetCreatedAt().Time,
		UpdatedAt:    issue.GetUpdatedAt().Time,
	}
	for _, label := range issue.Labels {
		out.Labels = append(out.Labels, label.GetName())
	}
	for _, assignee := range issue.Assignees {
		out.Assignees = append(out.Assignees, assignee.GetLogin())
	}
	return out
}
