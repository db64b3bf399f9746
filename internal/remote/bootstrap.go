package remote

import (
	"context"
	"fmt"
	"time"
)

// BootstrapConfig describes how to prepare a fresh VM for a session.
type BootstrapConfig struct {
	// CloneURL is the authenticated clone URL for the target repository.
	CloneURL string

	// Branch is the working branch to create for this task.
	Branch string

	// WorkDir is where the repo is cloned. Defaults to /home/dev/work.
	WorkDir string
}

// bootstrapStep is one setup command with its own timeout.
type bootstrapStep struct {
	name    string
	command string
	timeout time.Duration
}

// Bootstrap prepares a freshly provisioned VM: waits for cloud-init,
// installs the toolchain and agent CLI, clones the repo, and creates the
// working branch. All setup happens over SSH rather than in user-data so
// a failing step is observable and attributable to a specific command.
func Bootstrap(ctx context.Context, runner Runner, cfg BootstrapConfig) error {
	if cfg.CloneURL == "" {
		return fmt.Errorf("CloneURL cannot be empty")
	}
	if cfg.Branch == "" {
		return fmt.Errorf("Branch cannot be empty")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/home/dev/work"
	}

	steps := []bootstrapStep{
		{
			name:    "wait for cloud-init",
			command: "cloud-init status --wait",
			timeout: 5 * time.Minute,
		},
		{
			name:    "install toolchain",
			command: "sudo apt-get update -y && sudo apt-get install -y git curl build-essential",
			timeout: 5 * time.Minute,
		},
		{
			name:    "install agent CLI",
			command: "curl -fsSL https://claude.ai/install.sh | bash",
			timeout: 3 * time.Minute,
		},
		{
			name: "clone repository",
			command: fmt.Sprintf("git clone --depth 50 %s %s",
				shellQuote(cfg.CloneURL), shellQuote(cfg.WorkDir)),
			timeout: 5 * time.Minute,
		},
		{
			name: "create working branch",
			command: fmt.Sprintf("cd %s && git checkout -b %s && git config user.name minder && git config user.email minder@localhost",
				shellQuote(cfg.WorkDir), shellQuote(cfg.Branch)),
			timeout: 1 * time.Minute,
		},
	}

	for _, step := range steps {
		fmt.Printf("Bootstrap: %s\n", step.name)
		result, err := runner.Run(ctx, step.command, step.timeout)
		if err != nil {
			return fmt.Errorf("bootstrap step %q: %w", step.name, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("bootstrap step %q exited with code %d: %s",
				step.name, result.ExitCode, outputTail(result.Output, 500))
		}
	}
	return nil
}

// outputTail returns the last max bytes of output, for error messages.
func outputTail(output string, max int) string {
	if len(output) <= max {
		return output
	}
	return "..." + output[len(output)-max:]
}
