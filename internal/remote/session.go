package remote

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Phase is one step of a development session.
type Phase string

const (
	PhaseAnalyze   Phase = "analyze"
	PhaseImplement Phase = "implement"
	PhaseTest      Phase = "test"
	PhaseValidate  Phase = "validate"
	PhasePublish   Phase = "publish"
)

// phaseOrder is the fixed phase sequence. Test only runs when the repo
// opts in.
var phaseOrder = []Phase{PhaseAnalyze, PhaseImplement, PhaseTest, PhaseValidate, PhasePublish}

// DefaultPhaseTimeout returns the built-in timeout for a phase.
func DefaultPhaseTimeout(phase Phase) time.Duration {
	switch phase {
	case PhaseAnalyze:
		return 5 * time.Minute
	case PhaseImplement:
		return 15 * time.Minute
	case PhaseTest:
		return 10 * time.Minute
	case PhaseValidate:
		return 5 * time.Minute
	case PhasePublish:
		return 10 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// phaseTools is the per-phase capability allow-list passed to the remote
// agent. Earlier phases are read-only; only publish may push.
var phaseTools = map[Phase][]string{
	PhaseAnalyze:   {"Read", "Grep", "Glob"},
	PhaseImplement: {"Read", "Grep", "Glob", "Edit", "Write", "Bash"},
	PhaseTest:      {"Read", "Bash"},
	PhaseValidate:  {"Read", "Grep", "Bash"},
	PhasePublish:   {"Read", "Bash", "Bash(git:*)"},
}

// Sentinel strings the validate phase prompt instructs the agent to emit.
// Success is decided by sentinel match, never by exit code: an agent CLI
// can exit 0 after failing to do the work.
const (
	ValidationPassSentinel = "MINDER_VALIDATION: PASS"
	ValidationFailSentinel = "MINDER_VALIDATION: FAIL"
)

// PhaseResult is one entry in the session's ordered phase log.
type PhaseResult struct {
	Phase     Phase
	Command   string
	Output    string
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration

	// Error is set when the phase did not run to completion (transport
	// failure or timeout).
	Error string
}

// Result is the outcome of a full session. Phases holds the ordered log
// of everything that ran, including the failing phase.
type Result struct {
	Succeeded     bool
	FailureReason string
	Phases        []PhaseResult
}

// Log renders the phase log for the summary comment and event records.
func (r *Result) Log() string {
	var sb strings.Builder
	for _, p := range r.Phases {
		fmt.Fprintf(&sb, "=== %s (exit %d, %s) ===\n", p.Phase, p.ExitCode, p.Duration.Round(time.Second))
		if p.Error != "" {
			fmt.Fprintf(&sb, "error: %s\n", p.Error)
		}
		sb.WriteString(p.Output)
		if !strings.HasSuffix(p.Output, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// SessionConfig configures one development session.
type SessionConfig struct {
	// Runner executes remote commands. Required.
	Runner Runner

	// WorkDir is the repo checkout directory on the VM.
	WorkDir string

	// Prompts maps each phase to its rendered agent prompt. Required for
	// every phase that will run.
	Prompts map[Phase]string

	// TestEnabled opts into the test phase.
	TestEnabled bool

	// Timeouts overrides DefaultPhaseTimeout per phase where non-zero.
	Timeouts map[Phase]time.Duration
}

// Session drives the phase sequence for one task.
type Session struct {
	config SessionConfig
}

// NewSession creates a session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner cannot be nil")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/home/dev/work"
	}
	return &Session{config: cfg}, nil
}

// Run executes the phases in order. It stops at the first failure; the
// returned Result always carries the ordered log of every phase that ran.
// The error is non-nil only for transport failures, which abort the
// remaining phases with no retry inside this VM lease.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, phase := range phaseOrder {
		if phase == PhaseTest && !s.config.TestEnabled {
			continue
		}

		command := s.buildPhaseCommand(phase)
		timeout := s.timeoutFor(phase)
		fmt.Printf("Phase %s starting (timeout %s)\n", phase, timeout)

		entry := PhaseResult{Phase: phase, Command: command, StartedAt: time.Now()}
		cmdResult, err := s.config.Runner.Run(ctx, command, timeout)
		if err != nil {
			entry.Duration = time.Since(entry.StartedAt)
			entry.Error = err.Error()
			result.Phases = append(result.Phases, entry)
			result.FailureReason = fmt.Sprintf("phase %s: %v", phase, err)
			return result, fmt.Errorf("phase %s failed in transit: %w", phase, err)
		}

		entry.Output = cmdResult.Output
		entry.ExitCode = cmdResult.ExitCode
		entry.Duration = cmdResult.Duration
		result.Phases = append(result.Phases, entry)

		if phase == PhaseValidate {
			verdict, reason := validationVerdict(cmdResult.Output)
			if !verdict {
				result.FailureReason = reason
				return result, nil
			}
			continue
		}

		if cmdResult.ExitCode != 0 {
			result.FailureReason = fmt.Sprintf("phase %s exited with code %d", phase, cmdResult.ExitCode)
			return result, nil
		}
	}

	result.Succeeded = true
	return result, nil
}

// validationVerdict decides the validate phase from its output. Both
// sentinels present reads as a failure: the agent contradicted itself.
func validationVerdict(output string) (ok bool, reason string) {
	hasPass := strings.Contains(output, ValidationPassSentinel)
	hasFail := strings.Contains(output, ValidationFailSentinel)
	switch {
	case hasFail:
		return false, "validation reported failure"
	case hasPass:
		return true, ""
	default:
		return false, "validation produced no verdict"
	}
}

func (s *Session) timeoutFor(phase Phase) time.Duration {
	if d, ok := s.config.Timeouts[phase]; ok && d > 0 {
		return d
	}
	return DefaultPhaseTimeout(phase)
}

// buildPhaseCommand assembles the remote agent invocation for a phase:
// a single-shot agent CLI call in the work directory with the phase's
// capability allow-list.
func (s *Session) buildPhaseCommand(phase Phase) string {
	tools := strings.Join(phaseTools[phase], ",")
	prompt := s.config.Prompts[phase]
	return fmt.Sprintf("cd %s && claude -p --allowedTools %s %s",
		shellQuote(s.config.WorkDir), shellQuote(tools), shellQuote(prompt))
}
