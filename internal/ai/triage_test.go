package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTriageResponse(t *testing.T) {
	tests := []struct {
		name            string
		input           string
		wantOutcome     TriageOutcome
		wantUnparseable bool
		wantQuestions   int
	}{
		{
			name:        "ready",
			input:       `{"outcome": "ready", "reasoning": "clear scope"}`,
			wantOutcome: OutcomeReady,
		},
		{
			name:          "needs clarification with questions",
			input:         `{"outcome": "needs_clarification", "questions": ["Which browsers?", "Any tests?"]}`,
			wantOutcome:   OutcomeNeedsClarification,
			wantQuestions: 2,
		},
		{
			name:        "reconsider",
			input:       `{"outcome": "reconsider", "reasoning": "duplicate of existing behavior"}`,
			wantOutcome: OutcomeReconsider,
		},
		{
			name:            "prose falls back to needs clarification",
			input:           "This issue seems fine to me, go ahead!",
			wantOutcome:     OutcomeNeedsClarification,
			wantUnparseable: true,
			wantQuestions:   1,
		},
		{
			name:            "unknown outcome falls back",
			input:           `{"outcome": "maybe"}`,
			wantOutcome:     OutcomeNeedsClarification,
			wantUnparseable: true,
			wantQuestions:   1,
		},
		{
			name:            "clarification verdict without questions falls back to raw text",
			input:           `{"outcome": "needs_clarification"}`,
			wantOutcome:     OutcomeNeedsClarification,
			wantUnparseable: true,
			wantQuestions:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triage := parseTriageResponse(tt.input)
			assert.Equal(t, tt.wantOutcome, triage.Outcome)
			assert.Equal(t, tt.wantUnparseable, triage.Unparseable)
			if tt.wantQuestions > 0 {
				assert.Len(t, triage.Questions, tt.wantQuestions)
			}
		})
	}
}

func TestParseClassificationResponse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantClass ResponseClass
	}{
		{
			name:      "fully answers",
			input:     `{"classification": "fully_answers", "reasoning": "all questions addressed"}`,
			wantClass: ResponseFullyAnswers,
		},
		{
			name:      "partially answers",
			input:     `{"classification": "partially_answers", "follow_up_questions": ["Still: which API version?"]}`,
			wantClass: ResponsePartiallyAnswers,
		},
		{
			name:      "ambiguous",
			input:     `{"classification": "ambiguous", "follow_up_questions": ["Could you restate?"]}`,
			wantClass: ResponseAmbiguous,
		},
		{
			name:      "prose is unparseable",
			input:     "Looks good to me.",
			wantClass: ResponseUnparseable,
		},
		{
			name:      "unknown class is unparseable",
			input:     `{"classification": "sort_of_answers"}`,
			wantClass: ResponseUnparseable,
		},
		{
			name:      "empty is unparseable",
			input:     "",
			wantClass: ResponseUnparseable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseClassificationResponse(tt.input)
			assert.Equal(t, tt.wantClass, c.Class)
		})
	}
}

func TestCircuitBreakerTransitions(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, time.Minute)

	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestIsRetriableError(t *testing.T) {
	assert.True(t, isRetriableError(errString("429 too many requests")))
	assert.True(t, isRetriableError(errString("rate limit exceeded")))
	assert.True(t, isRetriableError(errString("503 service unavailable")))
	assert.True(t, isRetriableError(errString("connection refused")))
	assert.False(t, isRetriableError(errString("401 unauthorized")))
	assert.False(t, isRetriableError(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
