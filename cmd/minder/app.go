package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/steveyegge/minder/internal/ai"
	"github.com/steveyegge/minder/internal/clarify"
	"github.com/steveyegge/minder/internal/events"
	"github.com/steveyegge/minder/internal/orchestrator"
	"github.com/steveyegge/minder/internal/repoconfig"
	"github.com/steveyegge/minder/internal/state"
	"github.com/steveyegge/minder/internal/tracker"
	"github.com/steveyegge/minder/internal/vm"
)

// fatal prints a configuration error and exits non-zero. Used for missing
// tokens and other problems no retry can fix.
func fatal(format string, args ...any) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s %s\n", red("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

func openStore() state.Store {
	return state.NewFileStore(statePathFlag)
}

func openEvents() *events.Store {
	store, err := events.NewStore(eventsPathFlag)
	if err != nil {
		fatal("failed to open event log: %v", err)
	}
	return store
}

func loadRepoConfig() *repoconfig.Config {
	if repoConfigFlag == "" {
		return repoconfig.DefaultConfig()
	}
	cfg, err := repoconfig.Load(repoConfigFlag)
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

func requireRepo() string {
	if repoFlag == "" {
		fatal("no repository configured: pass --repo or set MINDER_REPO")
	}
	return repoFlag
}

func newTracker(ctx context.Context) *tracker.GitHubClient {
	client, err := tracker.NewGitHubClient(ctx, "")
	if err != nil {
		fatal("%v", err)
	}
	return client
}

func newSupervisor() *ai.Supervisor {
	supervisor, err := ai.NewSupervisor(&ai.Config{})
	if err != nil {
		fatal("%v", err)
	}
	return supervisor
}

func newVMManager() *vm.Manager {
	token := os.Getenv("DIGITALOCEAN_TOKEN")
	if token == "" {
		fatal("DIGITALOCEAN_TOKEN not set")
	}
	fingerprint := os.Getenv("MINDER_SSH_KEY_FINGERPRINT")
	if fingerprint == "" {
		fatal("MINDER_SSH_KEY_FINGERPRINT not set")
	}

	cfg := vm.DefaultConfig()
	cfg.SSHKeyFingerprint = fingerprint
	manager, err := vm.NewDigitalOceanManager(token, cfg)
	if err != nil {
		fatal("%v", err)
	}
	return manager
}

// newOrchestrator wires the full stack for the run/serve/issue commands.
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, *events.Store) {
	repo := requireRepo()
	store := openStore()
	eventLog := openEvents()
	gh := newTracker(ctx)
	supervisor := newSupervisor()
	vms := newVMManager()
	repoCfg := loadRepoConfig()

	machine, err := clarify.NewMachine(clarify.Config{
		Tracker:  gh,
		Store:    store,
		Assessor: supervisor,
		Labels:   repoCfg.Labels,
	})
	if err != nil {
		fatal("%v", err)
	}

	developer := &orchestrator.SSHDeveloper{
		User:           "dev",
		PrivateKeyPath: sshKeyPath(),
		CloneToken:     os.Getenv("GITHUB_TOKEN"),
		DialTimeout:    30 * time.Second,
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:        store,
		Tracker:      gh,
		Clarifier:    machine,
		Summarizer:   supervisor,
		VMs:          vms,
		Developer:    developer,
		Events:       eventLog,
		RepoFullName: repo,
		RepoConfig:   repoCfg,
	})
	if err != nil {
		fatal("%v", err)
	}
	return orch, eventLog
}

func sshKeyPath() string {
	if path := os.Getenv("MINDER_SSH_KEY_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ssh/id_ed25519"
	}
	return home + "/.ssh/id_ed25519"
}

// activeTickets returns the ticket ids of in-flight tasks, for droplet
// reconciliation.
func activeTickets(store state.Store) map[string]bool {
	st, err := store.Load()
	if err != nil {
		fatal("failed to load state: %v", err)
	}
	tickets := map[string]bool{}
	for _, task := range st.CurrentTasks {
		tickets[task.ID] = true
	}
	return tickets
}
