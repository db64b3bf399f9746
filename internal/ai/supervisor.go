// Package ai wraps the Anthropic API for minder's reasoning calls: issue
// triage, clarification-response classification, and result summaries.
// All calls go through retry with exponential backoff, a circuit breaker,
// and a concurrency limit.
package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/steveyegge/minder/internal/prompts"
	"golang.org/x/sync/semaphore"
)

// Tiered model strategy: the default model handles judgment calls
// (triage, response classification), the simple-task model handles
// mechanical work like summary comments.
const (
	// ModelSonnet is the high-end model for judgment tasks
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for simple tasks
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the default model, checking MINDER_MODEL_DEFAULT first
func GetDefaultModel() string {
	if model := os.Getenv("MINDER_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelSonnet
}

// GetSimpleTaskModel returns the model for simple tasks, checking MINDER_MODEL_SIMPLE first
func GetSimpleTaskModel() string {
	if model := os.Getenv("MINDER_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelHaiku
}

// Supervisor handles AI-powered triage and classification of issues.
//
// Responsibilities are distributed across files:
// - supervisor.go: core struct and constructor (this file)
// - retry.go: circuit breaker and retry logic
// - triage.go: issue assessment and response classification
// - summarize.go: result summary comments
// - json_parser.go: resilient parsing of model JSON output
type Supervisor struct {
	client         *anthropic.Client
	prompts        *prompts.Loader
	model          string
	simpleModel    string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
}

// Config holds supervisor configuration
type Config struct {
	APIKey      string // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model       string // Model for judgment tasks (default: GetDefaultModel())
	SimpleModel string // Model for simple tasks (default: GetSimpleTaskModel())
	Prompts     *prompts.Loader
	Retry       RetryConfig // Retry configuration (uses defaults if not specified)
}

// NewSupervisor creates a new AI supervisor
func NewSupervisor(cfg *Config) (*Supervisor, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	simpleModel := cfg.SimpleModel
	if simpleModel == "" {
		simpleModel = GetSimpleTaskModel()
	}

	loader := cfg.Prompts
	if loader == nil {
		loader = prompts.NewLoader("")
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &Supervisor{
		client:         &client,
		prompts:        loader,
		model:          model,
		simpleModel:    simpleModel,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
	}, nil
}

// complete sends a single-turn prompt and returns the concatenated text
// blocks of the response, going through the retry/breaker machinery.
func (s *Supervisor) complete(ctx context.Context, operation, model, prompt string, maxTokens int64) (string, error) {
	var response *anthropic.Message
	err := s.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := s.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// HealthCheck returns an error if the circuit breaker is open.
func (s *Supervisor) HealthCheck(_ context.Context) error {
	if s.circuitBreaker != nil {
		state, failures, _ := s.circuitBreaker.GetMetrics()
		if state == CircuitOpen {
			return fmt.Errorf("AI supervisor unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, s.retry.OpenTimeout)
		}
	}
	return nil
}
