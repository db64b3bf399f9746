package ai

import (
	"context"
	"fmt"

	"github.com/steveyegge/minder/internal/types"
)

// SummarizeResult produces the comment body reporting a development
// session's outcome back on the issue. Uses the simple-task model: this is
// mechanical prose generation, not a judgment call.
func (s *Supervisor) SummarizeResult(ctx context.Context, issue *types.Issue, succeeded bool, phaseLog string) (string, error) {
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}

	prompt, err := s.prompts.Render("summarize_result", map[string]string{
		"title":     issue.Title,
		"outcome":   outcome,
		"phase_log": truncateString(phaseLog, 8000),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render summary prompt: %w", err)
	}

	text, err := s.complete(ctx, "summarize-result", s.simpleModel, prompt, 1024)
	if err != nil {
		return "", err
	}
	return text, nil
}
