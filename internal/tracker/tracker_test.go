package tracker

import (
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		input     string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{"acme/widgets", "acme", "widgets", false},
		{"acme/widgets/extra", "acme", "widgets/extra", false},
		{"widgets", "", "", true},
		{"/widgets", "", "", true},
		{"acme/", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			owner, name, err := splitRepo(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestIssueFromGitHub(t *testing.T) {
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	ghIssue := &github.Issue{
		Number:    github.Int(42),
		Title:     github.String("Add dark mode"),
		Body:      github.String("The app needs a dark theme."),
		User:      &github.User{Login: github.String("alice")},
		Assignees: []*github.User{{Login: github.String("bob")}},
		Labels: []*github.Label{
			{Name: github.String("minder")},
			{Name: github.String("enhancement")},
		},
		CreatedAt: &github.Timestamp{Time: created},
		UpdatedAt: &github.Timestamp{Time: created.Add(time.Hour)},
	}

	issue := issueFromGitHub("acme/widgets", ghIssue)

	assert.Equal(t, "acme/widgets", issue.RepoFullName)
	assert.Equal(t, 42, issue.Number)
	assert.Equal(t, "Add dark mode", issue.Title)
	assert.Equal(t, "alice", issue.Author)
	assert.Equal(t, []string{"minder", "enhancement"}, issue.Labels)
	assert.Equal(t, []string{"bob"}, issue.Assignees)
	assert.Equal(t, created, issue.CreatedAt)
	assert.Equal(t, "acme/widgets#42", issue.Key())
}
