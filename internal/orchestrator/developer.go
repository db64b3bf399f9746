package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/steveyegge/minder/internal/remote"
	"github.com/steveyegge/minder/internal/repoconfig"
	"github.com/steveyegge/minder/internal/types"
)

// SSHDeveloper is the production Developer: it dials the VM over SSH,
// bootstraps it, and drives the phase session.
type SSHDeveloper struct {
	// User is the remote account, created by the VM bootstrap user-data.
	User string

	// PrivateKeyPath is the SSH key matching the fingerprint injected at
	// provision time.
	PrivateKeyPath string

	// CloneToken authenticates the repo clone and the publish push.
	CloneToken string

	// DialTimeout bounds the initial SSH connection.
	DialTimeout time.Duration
}

var _ Developer = (*SSHDeveloper)(nil)

// Develop bootstraps the VM and runs the phase session for the issue.
func (d *SSHDeveloper) Develop(ctx context.Context, issue *types.Issue, instance *types.VMInstance, repoCfg *repoconfig.Config) (*remote.Result, error) {
	user := d.User
	if user == "" {
		user = "dev"
	}
	dialTimeout := d.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	key, err := os.ReadFile(d.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}

	runner, err := remote.NewSSHRunner(net.JoinHostPort(instance.IP, "22"), user, key, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to droplet %d: %w", instance.ID, err)
	}
	defer func() { _ = runner.Close() }()

	instance.Status = types.VMSetup
	branch := fmt.Sprintf("minder/issue-%d", issue.Number)
	err = remote.Bootstrap(ctx, runner, remote.BootstrapConfig{
		CloneURL: fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", d.CloneToken, issue.RepoFullName),
		Branch:   branch,
	})
	if err != nil {
		return nil, err
	}

	instance.Status = types.VMRunning
	session, err := remote.NewSession(remote.SessionConfig{
		Runner:      runner,
		Prompts:     buildPhasePrompts(issue, branch),
		TestEnabled: repoCfg.Phases.TestEnabled,
		Timeouts:    phaseTimeouts(repoCfg),
	})
	if err != nil {
		return nil, err
	}
	return session.Run(ctx)
}

// phaseTimeouts converts repo config overrides into the session's map.
func phaseTimeouts(repoCfg *repoconfig.Config) map[remote.Phase]time.Duration {
	out := map[remote.Phase]time.Duration{}
	for _, phase := range []remote.Phase{
		remote.PhaseAnalyze, remote.PhaseImplement, remote.PhaseTest,
		remote.PhaseValidate, remote.PhasePublish,
	} {
		if d := repoCfg.PhaseTimeout(string(phase)); d > 0 {
			out[phase] = d
		}
	}
	return out
}

// buildPhasePrompts renders the per-phase agent instructions for an issue.
func buildPhasePrompts(issue *types.Issue, branch string) map[remote.Phase]string {
	header := fmt.Sprintf("You are working on issue #%d: %s\n\n%s\n\n", issue.Number, issue.Title, issue.Body)

	return map[remote.Phase]string{
		remote.PhaseAnalyze: header +
			"Read the codebase and identify the files and changes needed to resolve this issue. " +
			"Do not modify anything yet; finish with a short plan.",
		remote.PhaseImplement: header +
			"Implement the change per your analysis. Keep the diff focused on this issue.",
		remote.PhaseTest: header +
			"Run the project's test suite and fix any failures your change introduced.",
		remote.PhaseValidate: header +
			"Review the working tree and judge whether the change resolves the issue. " +
			"You MUST end your output with exactly one of these lines:\n" +
			remote.ValidationPassSentinel + "\n" +
			remote.ValidationFailSentinel,
		remote.PhasePublish: header +
			fmt.Sprintf("Commit the change with a clear message and push the %s branch to origin.", branch),
	}
}
