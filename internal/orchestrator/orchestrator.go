// Package orchestrator composes the full lifecycle: pulling candidate
// issues, triaging them, leasing VMs for development sessions, reporting
// results, and sweeping open clarification rounds. One logical worker
// drives everything; there is no intra-cycle parallelism, which is what
// makes the capacity gate's read-then-admit safe.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/steveyegge/minder/internal/ai"
	"github.com/steveyegge/minder/internal/events"
	"github.com/steveyegge/minder/internal/remote"
	"github.com/steveyegge/minder/internal/repoconfig"
	"github.com/steveyegge/minder/internal/state"
	"github.com/steveyegge/minder/internal/tracker"
	"github.com/steveyegge/minder/internal/types"
)

// Clarifier is the clarification machine surface the orchestrator uses.
// *clarify.Machine satisfies it.
type Clarifier interface {
	Assess(ctx context.Context, issue *types.Issue) (*ai.Triage, error)
	CheckForResponses(ctx context.Context, record *types.IssueStatus) error
}

// Summarizer produces result comment bodies. *ai.Supervisor satisfies it.
type Summarizer interface {
	SummarizeResult(ctx context.Context, issue *types.Issue, succeeded bool, phaseLog string) (string, error)
}

// VMProvider leases and destroys VMs. *vm.Manager satisfies it.
type VMProvider interface {
	Provision(ctx context.Context, ticketID, size, region string) (*types.VMInstance, error)
	Teardown(ctx context.Context, instance *types.VMInstance) error
}

// Developer runs the development session on a provisioned VM.
type Developer interface {
	Develop(ctx context.Context, issue *types.Issue, instance *types.VMInstance, repoCfg *repoconfig.Config) (*remote.Result, error)
}

// EventSink records activity events. *events.Store satisfies it.
type EventSink interface {
	Append(ctx context.Context, event *events.Event) error
}

// DefaultStaleTaskMaxAge is how long an in_progress task may sit before
// the startup sweep declares it orphaned. Sized to the longest possible
// session (provision plus all phases) with ample margin.
const DefaultStaleTaskMaxAge = 2 * time.Hour

// Config holds orchestrator configuration and collaborators.
type Config struct {
	Store      state.Store
	Tracker    tracker.Client
	Clarifier  Clarifier
	Summarizer Summarizer
	VMs        VMProvider
	Developer  Developer
	Events     EventSink

	// RepoFullName is the "owner/repo" this orchestrator watches.
	RepoFullName string

	// RepoConfig is the per-repo configuration. Defaults when nil.
	RepoConfig *repoconfig.Config

	// StaleTaskMaxAge overrides DefaultStaleTaskMaxAge when positive.
	StaleTaskMaxAge time.Duration
}

// Orchestrator drives cycles for one repository.
type Orchestrator struct {
	config Config
}

// New creates an orchestrator and reconciles tasks orphaned by a previous
// crash.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store cannot be nil")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("Tracker cannot be nil")
	}
	if cfg.Clarifier == nil {
		return nil, fmt.Errorf("Clarifier cannot be nil")
	}
	if cfg.RepoFullName == "" {
		return nil, fmt.Errorf("RepoFullName cannot be empty")
	}
	if cfg.RepoConfig == nil {
		cfg.RepoConfig = repoconfig.DefaultConfig()
	}
	if cfg.StaleTaskMaxAge <= 0 {
		cfg.StaleTaskMaxAge = DefaultStaleTaskMaxAge
	}

	swept, err := cfg.Store.SweepStaleTasks(cfg.StaleTaskMaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale tasks: %w", err)
	}
	if swept > 0 {
		fmt.Printf("Swept %d orphaned in-progress task(s) to failed\n", swept)
	}

	return &Orchestrator{config: cfg}, nil
}

// RunCycle executes one full orchestration cycle. Per-item errors are
// logged and the cycle continues; only infrastructure errors (state store
// I/O, candidate listing) fail the cycle itself.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if err := o.config.Store.RecordCycle(); err != nil {
		return fmt.Errorf("failed to record cycle heartbeat: %w", err)
	}
	o.emit(ctx, events.New(events.EventTypeCycleStarted, events.SeverityInfo, "", "cycle started", nil))

	candidates, err := o.config.Tracker.ListCandidateIssues(ctx, o.config.RepoFullName, o.config.RepoConfig.Labels.Trigger)
	if err != nil {
		return fmt.Errorf("failed to list candidate issues: %w", err)
	}
	fmt.Printf("Cycle: %d candidate issue(s) in %s\n", len(candidates), o.config.RepoFullName)

	for _, issue := range candidates {
		if err := o.ProcessIssue(ctx, issue); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to process %s: %v\n", issue.Key(), err)
			o.emit(ctx, events.New(events.EventTypeError, events.SeverityError, issue.Key(),
				fmt.Sprintf("processing failed: %v", err), nil))
		}
	}

	if err := o.sweepAwaiting(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: clarification sweep failed: %v\n", err)
	}

	o.emit(ctx, events.New(events.EventTypeCycleCompleted, events.SeverityInfo, "",
		fmt.Sprintf("cycle completed, %d candidate(s)", len(candidates)), nil))
	return nil
}

// HandleIssue processes a single issue by number: the entrypoint for the
// webhook path and the `minder issue` command.
func (o *Orchestrator) HandleIssue(ctx context.Context, number int) error {
	issue, err := o.config.Tracker.GetIssue(ctx, o.config.RepoFullName, number)
	if err != nil {
		return fmt.Errorf("failed to fetch issue %d: %w", number, err)
	}
	return o.ProcessIssue(ctx, issue)
}

// ProcessIssue runs one issue through the lifecycle: skip checks, capacity
// gate, triage, and (when actionable) a VM-backed development session.
func (o *Orchestrator) ProcessIssue(ctx context.Context, issue *types.Issue) error {
	record, err := o.config.Store.GetStatus(issue.RepoFullName, issue.Number)
	if err != nil {
		return err
	}

	if record != nil {
		switch {
		case record.Terminal():
			o.skip(ctx, issue, fmt.Sprintf("already processed (%s)", record.Status))
			return nil
		case record.Status == types.StatusAwaitingClarification:
			// The follow-up sweep owns this issue until a human answers.
			o.skip(ctx, issue, "awaiting clarification")
			return nil
		}
	}

	if record == nil {
		// Comment presence is a stronger signal than the local record: it
		// survives state loss. Backfill the record instead of re-processing.
		hasComment, err := o.config.Tracker.HasBotComment(ctx, issue.RepoFullName, issue.Number)
		if err != nil {
			return fmt.Errorf("failed to check for existing comment on %s: %w", issue.Key(), err)
		}
		if hasComment {
			if err := o.config.Store.UpsertIssueStatus(issue, types.StatusResponded, nil, nil); err != nil {
				return err
			}
			o.skip(ctx, issue, "bot comment already present, record backfilled")
			return nil
		}
	}

	ok, err := o.config.Store.CanAdmit()
	if err != nil {
		return err
	}
	if !ok {
		o.skip(ctx, issue, "at concurrent task capacity")
		return nil
	}

	// An issue whose clarification round just closed is actionable as-is;
	// everything else gets triaged first.
	if record == nil || record.Status != types.StatusClarificationReceived {
		triage, err := o.config.Clarifier.Assess(ctx, issue)
		if err != nil {
			return err
		}
		if triage.Outcome != ai.OutcomeReady {
			o.emit(ctx, events.New(events.EventTypeClarificationRequested, events.SeverityInfo, issue.Key(),
				fmt.Sprintf("clarification requested (%s)", triage.Outcome), nil))
			return nil
		}
	}

	return o.develop(ctx, issue)
}

// develop runs the full VM-backed development path for an actionable
// issue. Teardown is deferred the moment provisioning succeeds, so the VM
// is destroyed on success, failure, and panic alike.
func (o *Orchestrator) develop(ctx context.Context, issue *types.Issue) error {
	taskID, err := o.config.Store.StartTask(state.TaskSpec{
		Type:         "develop",
		IssueNumber:  issue.Number,
		RepoFullName: issue.RepoFullName,
	})
	if err != nil {
		return err
	}

	repoCfg := o.config.RepoConfig
	instance, err := o.config.VMs.Provision(ctx, taskID, repoCfg.VM.Size, repoCfg.VM.Region)
	if err != nil {
		// Transient infrastructure failure: no comment, no terminal record,
		// so the issue is retried on a later cycle.
		o.emit(ctx, events.New(events.EventTypeVMProvisionFailed, events.SeverityError, issue.Key(),
			fmt.Sprintf("provisioning failed: %v", err), nil))
		if cerr := o.config.Store.CompleteTask(taskID, types.TaskFailed); cerr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to complete task %s: %v\n", taskID, cerr)
		}
		return fmt.Errorf("failed to provision VM for %s: %w", issue.Key(), err)
	}
	o.emit(ctx, events.New(events.EventTypeVMProvisioned, events.SeverityInfo, issue.Key(),
		fmt.Sprintf("droplet %d ready at %s", instance.ID, instance.IP),
		map[string]any{"vm_id": instance.ID, "task_id": taskID}))

	defer func() {
		if err := o.config.VMs.Teardown(context.WithoutCancel(ctx), instance); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to tear down droplet %d for %s: %v\n", instance.ID, issue.Key(), err)
			o.emit(ctx, events.New(events.EventTypeError, events.SeverityError, issue.Key(),
				fmt.Sprintf("teardown failed for droplet %d: %v", instance.ID, err), nil))
			return
		}
		o.emit(ctx, events.New(events.EventTypeVMDestroyed, events.SeverityInfo, issue.Key(),
			fmt.Sprintf("droplet %d destroyed", instance.ID), nil))
	}()

	result, devErr := o.config.Developer.Develop(ctx, issue, instance, repoCfg)
	succeeded := devErr == nil && result != nil && result.Succeeded

	phaseLog := ""
	if result != nil {
		phaseLog = result.Log()
	}
	if devErr != nil {
		phaseLog += fmt.Sprintf("\nsession error: %v\n", devErr)
	}

	if err := o.report(ctx, issue, succeeded, phaseLog); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to report result for %s: %v\n", issue.Key(), err)
	}

	taskStatus := types.TaskFailed
	finalStatus := types.StatusResponded
	eventType := events.EventTypeDevelopmentFailed
	severity := events.SeverityWarning
	if succeeded {
		taskStatus = types.TaskCompleted
		finalStatus = types.StatusDevelopmentCompleted
		eventType = events.EventTypeDevelopmentCompleted
		severity = events.SeverityInfo
	}

	if err := o.config.Store.UpsertIssueStatus(issue, finalStatus, nil, nil); err != nil {
		return err
	}
	if err := o.config.Store.CompleteTask(taskID, taskStatus); err != nil {
		return err
	}

	o.emit(ctx, events.New(eventType, severity, issue.Key(),
		fmt.Sprintf("development %s", taskStatus), map[string]any{"task_id": taskID}))
	fmt.Printf("Development for %s finished: %s\n", issue.Key(), taskStatus)
	return nil
}

// report posts the summary comment and moves the lifecycle labels.
func (o *Orchestrator) report(ctx context.Context, issue *types.Issue, succeeded bool, phaseLog string) error {
	body := ""
	if o.config.Summarizer != nil {
		summary, err := o.config.Summarizer.SummarizeResult(ctx, issue, succeeded, phaseLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: summary generation failed for %s: %v\n", issue.Key(), err)
		} else {
			body = summary
		}
	}
	if body == "" {
		outcome := "failed"
		if succeeded {
			outcome = "succeeded"
		}
		body = fmt.Sprintf("Development session %s for **%s**.", outcome, issue.Title)
	}

	if _, err := o.config.Tracker.PostComment(ctx, issue.RepoFullName, issue.Number, body); err != nil {
		return err
	}
	if err := o.config.Store.RecordCommentPosted(); err != nil {
		return err
	}

	labels := o.config.RepoConfig.Labels
	resultLabel := labels.Failed
	if succeeded {
		resultLabel = labels.Done
	}
	if err := o.config.Tracker.RemoveLabel(ctx, issue.RepoFullName, issue.Number, labels.Trigger); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to remove label %q from %s: %v\n", labels.Trigger, issue.Key(), err)
	}
	if err := o.config.Tracker.AddLabels(ctx, issue.RepoFullName, issue.Number, []string{resultLabel}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to add label %q to %s: %v\n", resultLabel, issue.Key(), err)
	}
	return nil
}

// sweepAwaiting checks every open clarification round for human answers.
func (o *Orchestrator) sweepAwaiting(ctx context.Context) error {
	records, err := o.config.Store.ListByStatus(types.StatusAwaitingClarification)
	if err != nil {
		return err
	}
	for i := range records {
		record := records[i]
		if err := o.config.Clarifier.CheckForResponses(ctx, &record); err != nil {
			fmt.Fprintf(os.Stderr, "warning: response check failed for %s: %v\n", record.Key(), err)
			o.emit(ctx, events.New(events.EventTypeError, events.SeverityWarning, record.Key(),
				fmt.Sprintf("response check failed: %v", err), nil))
		}
	}
	return nil
}

func (o *Orchestrator) skip(ctx context.Context, issue *types.Issue, reason string) {
	fmt.Printf("Skipping %s: %s\n", issue.Key(), reason)
	o.emit(ctx, events.New(events.EventTypeIssueSkipped, events.SeverityInfo, issue.Key(), reason, nil))
}

// emit records an event, best-effort. Losing an audit event must never
// fail the work it describes.
func (o *Orchestrator) emit(ctx context.Context, event *events.Event) {
	if o.config.Events == nil {
		return
	}
	if err := o.config.Events.Append(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record event %s: %v\n", event.Type, err)
	}
}
