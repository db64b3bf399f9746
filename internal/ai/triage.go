package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/minder/internal/types"
)

// TriageOutcome is the tagged result of assessing an issue.
type TriageOutcome string

const (
	// OutcomeReady means the issue is actionable as written
	OutcomeReady TriageOutcome = "ready"
	// OutcomeNeedsClarification means the issue needs human answers first
	OutcomeNeedsClarification TriageOutcome = "needs_clarification"
	// OutcomeReconsider means the issue should not proceed as written
	OutcomeReconsider TriageOutcome = "reconsider"
)

// Triage is the structured assessment of whether an issue is actionable.
type Triage struct {
	Outcome   TriageOutcome `json:"outcome"`
	Questions []string      `json:"questions,omitempty"` // Ordered questions for the reporter
	Reasoning string        `json:"reasoning,omitempty"`

	// Unparseable is set when the model response did not parse into one of
	// the three outcome shapes and the conservative fallback was applied.
	Unparseable bool `json:"-"`
}

// ResponseClass is the tagged classification of a human clarification answer.
type ResponseClass string

const (
	// ResponseFullyAnswers means all questions were answered
	ResponseFullyAnswers ResponseClass = "fully_answers"
	// ResponsePartiallyAnswers means some questions remain open
	ResponsePartiallyAnswers ResponseClass = "partially_answers"
	// ResponseAmbiguous means the answer itself needs clarification
	ResponseAmbiguous ResponseClass = "ambiguous"
	// ResponseUnparseable means the classifier output did not parse.
	// Callers must leave the clarification state unchanged (fail-safe:
	// never silently advance on unparseable input).
	ResponseUnparseable ResponseClass = "unparseable"
)

// ResponseClassification is the structured classification of a reporter's
// answer to a clarification request.
type ResponseClassification struct {
	Class             ResponseClass `json:"classification"`
	FollowUpQuestions []string      `json:"follow_up_questions,omitempty"`
	Reasoning         string        `json:"reasoning,omitempty"`
}

// AssessIssue judges whether an issue is actionable. The model must answer
// with one of exactly three structured outcomes; anything else is treated
// conservatively as needs-clarification with the raw text as the question,
// so the human is never silently ignored.
func (s *Supervisor) AssessIssue(ctx context.Context, issue *types.Issue) (*Triage, error) {
	startTime := time.Now()

	prompt, err := s.prompts.Render("assess_issue", map[string]string{
		"title":  issue.Title,
		"body":   issue.Body,
		"labels": strings.Join(issue.Labels, ", "),
		"author": issue.Author,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render assessment prompt: %w", err)
	}

	responseText, err := s.complete(ctx, "triage", s.model, prompt, 2048)
	if err != nil {
		return nil, err
	}

	triage := parseTriageResponse(responseText)
	if triage.Unparseable {
		fmt.Printf("Triage for %s did not parse into a known outcome, falling back to needs-clarification\n", issue.Key())
	}

	fmt.Printf("AI triage for %s: outcome=%s, questions=%d, duration=%v\n",
		issue.Key(), triage.Outcome, len(triage.Questions), time.Since(startTime))
	return triage, nil
}

// parseTriageResponse maps raw model output to a Triage, applying the
// conservative fallback for anything that does not parse into one of the
// three outcome shapes.
func parseTriageResponse(responseText string) *Triage {
	parseResult := Parse[Triage](responseText)
	if !parseResult.Success || !validTriageOutcome(parseResult.Data.Outcome) {
		// Conservative fallback: ask the human, quoting the raw response
		return &Triage{
			Outcome:     OutcomeNeedsClarification,
			Questions:   []string{strings.TrimSpace(responseText)},
			Unparseable: true,
		}
	}

	triage := parseResult.Data
	if triage.Outcome == OutcomeNeedsClarification && len(triage.Questions) == 0 {
		// A clarification verdict with no questions is not actionable either
		triage.Questions = []string{strings.TrimSpace(responseText)}
		triage.Unparseable = true
	}
	return &triage
}

// ClassifyResponse classifies a reporter's answer against the outstanding
// questions. An unparseable classifier output yields ResponseUnparseable,
// never a silent advance.
func (s *Supervisor) ClassifyResponse(ctx context.Context, issue *types.Issue, questions []string, response string) (*ResponseClassification, error) {
	prompt, err := s.prompts.Render("classify_response", map[string]string{
		"title":     issue.Title,
		"questions": strings.Join(questions, "\n- "),
		"response":  response,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render classification prompt: %w", err)
	}

	responseText, err := s.complete(ctx, "classify-response", s.model, prompt, 2048)
	if err != nil {
		return nil, err
	}

	classification := parseClassificationResponse(responseText)
	if classification.Class == ResponseUnparseable {
		fmt.Printf("Response classification for %s did not parse (response: %s)\n",
			issue.Key(), truncateString(responseText, 200))
	} else {
		fmt.Printf("AI classification for %s: %s\n", issue.Key(), classification.Class)
	}
	return classification, nil
}

// parseClassificationResponse maps raw classifier output to a
// ResponseClassification, yielding ResponseUnparseable for anything that
// does not parse into one of the three shapes.
func parseClassificationResponse(responseText string) *ResponseClassification {
	parseResult := Parse[ResponseClassification](responseText)
	if !parseResult.Success || !validResponseClass(parseResult.Data.Class) {
		return &ResponseClassification{Class: ResponseUnparseable}
	}
	classification := parseResult.Data
	return &classification
}

func validTriageOutcome(o TriageOutcome) bool {
	switch o {
	case OutcomeReady, OutcomeNeedsClarification, OutcomeReconsider:
		return true
	}
	return false
}

func validResponseClass(c ResponseClass) bool {
	switch c {
	case ResponseFullyAnswers, ResponsePartiallyAnswers, ResponseAmbiguous:
		return true
	}
	return false
}
