// Package remote executes development sessions on a leased VM over SSH.
// A Runner executes single commands with bounded output and a timeout;
// a Session drives the phase sequence on top of a Runner.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultMaxOutputBytes bounds captured output per command. Agent CLIs can
// emit megabytes of streaming output; everything past the limit is dropped
// with a truncation marker.
const DefaultMaxOutputBytes = 1 << 20

// CommandResult is the outcome of one remote command that ran to
// completion. A nonzero ExitCode is a command failure, not a transport
// failure; transport failures are returned as errors instead.
type CommandResult struct {
	Output    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// Runner executes commands on the remote host.
type Runner interface {
	// Run executes command, waiting at most timeout (0 = no limit).
	// It returns an error only for transport problems (dial, session,
	// timeout); a command that exits nonzero returns a result.
	Run(ctx context.Context, command string, timeout time.Duration) (*CommandResult, error)
	Close() error
}

// SSHRunner runs commands over a single SSH connection.
type SSHRunner struct {
	client         *ssh.Client
	maxOutputBytes int
}

var _ Runner = (*SSHRunner)(nil)

// NewSSHRunner dials addr ("host:22") as user with the given PEM private
// key. Hosts are created fresh per task, so there is no prior host key to
// verify against.
func NewSSHRunner(addr, user string, privateKeyPEM []byte, dialTimeout time.Duration) (*SSHRunner, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &SSHRunner{client: client, maxOutputBytes: DefaultMaxOutputBytes}, nil
}

// Run executes one command in a fresh SSH session.
func (r *SSHRunner) Run(ctx context.Context, command string, timeout time.Duration) (*CommandResult, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	buf := newBoundedBuffer(r.maxOutputBytes)
	session.Stdout = buf
	session.Stderr = buf

	start := time.Now()
	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("failed to start remote command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-done:
		result := &CommandResult{
			Output:    buf.String(),
			Duration:  time.Since(start),
			Truncated: buf.Truncated(),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return nil, fmt.Errorf("remote command failed in transit: %w", err)
		}
		return result, nil
	case <-timeoutCh:
		_ = session.Close()
		return nil, fmt.Errorf("remote command timed out after %s", timeout)
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	}
}

// Close closes the underlying connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}

// boundedBuffer accumulates up to max bytes; further writes are counted
// but discarded. Safe for the concurrent stdout/stderr writers the ssh
// session uses.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[... output truncated: limit reached ...]"
	}
	return b.buf.String()
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// shellQuote single-quotes s for safe interpolation into a remote shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
