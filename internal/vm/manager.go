// Package vm manages the lifecycle of leased DigitalOcean droplets used
// for development sessions. Every droplet minder creates is tagged so it
// can be found and destroyed later even if local state is lost.
package vm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"github.com/steveyegge/minder/internal/types"
)

// ManagedTag marks every droplet minder creates. Reconciliation and the
// cleanup command enumerate by this tag, never by name.
const ManagedTag = "minder"

// ticketTagPrefix prefixes the per-ticket tag on each droplet.
const ticketTagPrefix = "minder-"

// dropletStatusActive is DigitalOcean's status for a booted droplet.
const dropletStatusActive = "active"

// Clock abstracts time for the provisioning poll loop so tests can drive
// it with a fake instead of sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollPolicy controls how provisioning waits for a droplet to come up.
type PollPolicy struct {
	// Interval between status polls.
	Interval time.Duration

	// SettleDelay is an extra wait after the address appears; sshd is
	// usually not accepting connections the instant the IP is assigned.
	SettleDelay time.Duration

	// MaxWait bounds the whole poll loop. Exceeding it fails the
	// provision; the droplet is destroyed best-effort before returning.
	MaxWait time.Duration
}

// DefaultPollPolicy returns the poll policy used when the config does not
// override it.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    10 * time.Second,
		SettleDelay: 30 * time.Second,
		MaxWait:     5 * time.Minute,
	}
}

// DropletService is the subset of the DigitalOcean droplet API the
// manager uses. godo's client.Droplets satisfies it.
type DropletService interface {
	Create(ctx context.Context, createRequest *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error)
	Get(ctx context.Context, dropletID int) (*godo.Droplet, *godo.Response, error)
	Delete(ctx context.Context, dropletID int) (*godo.Response, error)
	ListByTag(ctx context.Context, tag string, opt *godo.ListOptions) ([]godo.Droplet, *godo.Response, error)
}

// Config holds VM manager configuration.
type Config struct {
	// Droplets is the compute API. Required.
	Droplets DropletService

	// SSHKeyFingerprint identifies the account SSH key to inject. Required
	// for real provisioning.
	SSHKeyFingerprint string

	// Region and Size are defaults; per-repo config can override them
	// per provision call.
	Region string
	Size   string

	// Image is the droplet base image slug.
	Image string

	// Poll controls the provisioning wait loop.
	Poll PollPolicy

	// Clock drives the poll loop. Defaults to the real clock.
	Clock Clock

	// KeyDir is where per-ticket ephemeral key material is written; files
	// under it matching the ticket are removed on teardown.
	KeyDir string
}

// DefaultConfig returns a config with sensible defaults. The caller must
// still set Droplets and SSHKeyFingerprint.
func DefaultConfig() Config {
	return Config{
		Region: "sfo3",
		Size:   "s-2vcpu-4gb",
		Image:  "ubuntu-24-04-x64",
		Poll:   DefaultPollPolicy(),
		KeyDir: filepath.Join(".minder", "keys"),
	}
}

// Manager provisions and destroys droplets.
type Manager struct {
	config Config
}

// NewManager creates a VM manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Droplets == nil {
		return nil, fmt.Errorf("Droplets service cannot be nil")
	}

	defaults := DefaultConfig()
	if cfg.Region == "" {
		cfg.Region = defaults.Region
	}
	if cfg.Size == "" {
		cfg.Size = defaults.Size
	}
	if cfg.Image == "" {
		cfg.Image = defaults.Image
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = defaults.Poll.Interval
	}
	if cfg.Poll.MaxWait <= 0 {
		cfg.Poll.MaxWait = defaults.Poll.MaxWait
	}
	if cfg.Poll.SettleDelay < 0 {
		cfg.Poll.SettleDelay = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.KeyDir == "" {
		cfg.KeyDir = defaults.KeyDir
	}

	return &Manager{config: cfg}, nil
}

// NewDigitalOceanManager creates a manager backed by the real DigitalOcean
// API using the given token.
func NewDigitalOceanManager(token string, cfg Config) (*Manager, error) {
	if token == "" {
		return nil, fmt.Errorf("DIGITALOCEAN_TOKEN not set")
	}
	cfg.Droplets = godo.NewFromToken(token).Droplets
	return NewManager(cfg)
}

// bootstrapUserData is the cloud-init script passed at creation. It only
// establishes SSH access for the dev user; all further setup (clone,
// toolchain install, agent start) happens over SSH once the instance is
// reachable, so setup failures are observable and attributable.
const bootstrapUserData = `#!/bin/bash
set -e
useradd -m -s /bin/bash dev
mkdir -p /home/dev/.ssh
cp /root/.ssh/authorized_keys /home/dev/.ssh/authorized_keys
chown -R dev:dev /home/dev/.ssh
chmod 700 /home/dev/.ssh
chmod 600 /home/dev/.ssh/authorized_keys
echo 'dev ALL=(ALL) NOPASSWD:ALL' > /etc/sudoers.d/dev
`

// Provision creates a droplet for the ticket and waits until it has a
// public address and has settled. size and region override the manager
// defaults when non-empty. On poll timeout the droplet is destroyed
// best-effort and an error is returned; the caller decides whether to
// retry with a fresh provision.
func (m *Manager) Provision(ctx context.Context, ticketID, size, region string) (*types.VMInstance, error) {
	if ticketID == "" {
		return nil, fmt.Errorf("ticketID cannot be empty")
	}
	if size == "" {
		size = m.config.Size
	}
	if region == "" {
		region = m.config.Region
	}

	req := &godo.DropletCreateRequest{
		Name:   ticketTagPrefix + ticketID,
		Region: region,
		Size:   size,
		Image:  godo.DropletCreateImage{Slug: m.config.Image},
		SSHKeys: []godo.DropletCreateSSHKey{
			{Fingerprint: m.config.SSHKeyFingerprint},
		},
		Tags:     []string{ManagedTag, ticketTagPrefix + ticketID},
		UserData: bootstrapUserData,
	}

	droplet, _, err := m.config.Droplets.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create droplet for %s: %w", ticketID, err)
	}

	fmt.Printf("Provisioning droplet %d for %s (%s, %s)\n", droplet.ID, ticketID, size, region)

	instance := &types.VMInstance{
		ID:        droplet.ID,
		Status:    types.VMProvisioning,
		CreatedAt: m.config.Clock.Now(),
		TicketID:  ticketID,
	}

	ip, err := m.AwaitReady(ctx, droplet.ID)
	if err != nil {
		// Destroy the half-provisioned droplet so a poll timeout never
		// leaks a billed instance.
		if derr := m.Teardown(context.WithoutCancel(ctx), instance); derr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to destroy droplet %d after provision failure: %v\n", droplet.ID, derr)
		}
		return nil, err
	}

	if m.config.Poll.SettleDelay > 0 {
		if err := m.config.Clock.Sleep(ctx, m.config.Poll.SettleDelay); err != nil {
			if derr := m.Teardown(context.WithoutCancel(ctx), instance); derr != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to destroy droplet %d after provision failure: %v\n", droplet.ID, derr)
			}
			return nil, fmt.Errorf("interrupted while waiting for droplet %d to settle: %w", droplet.ID, err)
		}
	}

	instance.IP = ip
	instance.Status = types.VMReady
	fmt.Printf("Droplet %d ready at %s\n", droplet.ID, ip)
	return instance, nil
}

// AwaitReady polls the droplet until it is active with a public IPv4
// address, returning that address. Polling is fixed-interval under the
// manager's PollPolicy; exceeding MaxWait is an error.
func (m *Manager) AwaitReady(ctx context.Context, dropletID int) (string, error) {
	deadline := m.config.Clock.Now().Add(m.config.Poll.MaxWait)
	for {
		droplet, _, err := m.config.Droplets.Get(ctx, dropletID)
		if err != nil {
			return "", fmt.Errorf("failed to poll droplet %d: %w", dropletID, err)
		}

		if droplet.Status == dropletStatusActive {
			ip, err := droplet.PublicIPv4()
			if err == nil && ip != "" {
				return ip, nil
			}
		}

		if !m.config.Clock.Now().Add(m.config.Poll.Interval).Before(deadline) {
			return "", fmt.Errorf("droplet %d not ready after %s", dropletID, m.config.Poll.MaxWait)
		}
		if err := m.config.Clock.Sleep(ctx, m.config.Poll.Interval); err != nil {
			return "", fmt.Errorf("interrupted while polling droplet %d: %w", dropletID, err)
		}
	}
}

// Teardown destroys the droplet and removes local ephemeral artifacts for
// its ticket. It is idempotent: a droplet that is already gone is success,
// and a nil instance is a no-op. Local artifact removal is best-effort and
// never fails the teardown.
func (m *Manager) Teardown(ctx context.Context, instance *types.VMInstance) error {
	if instance == nil {
		return nil
	}

	instance.Status = types.VMDestroying
	resp, err := m.config.Droplets.Delete(ctx, instance.ID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			m.removeLocalArtifacts(instance.TicketID)
			return nil
		}
		return fmt.Errorf("failed to destroy droplet %d: %w", instance.ID, err)
	}

	fmt.Printf("Destroyed droplet %d (%s)\n", instance.ID, instance.TicketID)
	m.removeLocalArtifacts(instance.TicketID)
	return nil
}

// removeLocalArtifacts deletes per-ticket key files. Failures are warnings;
// stale key files are harmless.
func (m *Manager) removeLocalArtifacts(ticketID string) {
	if ticketID == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(m.config.KeyDir, ticketID+"*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: failed to remove %s: %v\n", path, err)
		}
	}
}

// ManagedDroplet is one minder-tagged droplet as seen by reconciliation.
type ManagedDroplet struct {
	ID         int
	Name       string
	IP         string
	Status     string
	TicketID   string
	CreatedAt  time.Time
	HourlyCost float64

	// Orphan is true when no current task claims this droplet's ticket.
	Orphan bool
}

// Reconcile enumerates all minder-tagged droplets and marks those whose
// ticket is not in activeTickets as orphans. The returned slice is the
// audit view used by the vms and cleanup commands.
func (m *Manager) Reconcile(ctx context.Context, activeTickets map[string]bool) ([]ManagedDroplet, error) {
	var out []ManagedDroplet
	opts := &godo.ListOptions{PerPage: 200}
	for {
		droplets, resp, err := m.config.Droplets.ListByTag(ctx, ManagedTag, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list managed droplets: %w", err)
		}
		for _, droplet := range droplets {
			managed := ManagedDroplet{
				ID:       droplet.ID,
				Name:     droplet.Name,
				Status:   droplet.Status,
				TicketID: ticketFromTags(droplet.Tags),
			}
			if ip, err := droplet.PublicIPv4(); err == nil {
				managed.IP = ip
			}
			if created, err := time.Parse(time.RFC3339, droplet.Created); err == nil {
				managed.CreatedAt = created
			}
			if droplet.Size != nil {
				managed.HourlyCost = droplet.Size.PriceHourly
			}
			managed.Orphan = managed.TicketID == "" || !activeTickets[managed.TicketID]
			out = append(out, managed)
		}
		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			break
		}
		opts.Page = page + 1
	}
	return out, nil
}

// TotalHourlyCost sums the hourly cost of the given droplets.
func TotalHourlyCost(droplets []ManagedDroplet) float64 {
	var total float64
	for _, d := range droplets {
		total += d.HourlyCost
	}
	return total
}

// ticketFromTags extracts the ticket id from a droplet's tags.
func ticketFromTags(tags []string) string {
	for _, tag := range tags {
		if tag == ManagedTag {
			continue
		}
		if strings.HasPrefix(tag, ticketTagPrefix) {
			return strings.TrimPrefix(tag, ticketTagPrefix)
		}
	}
	return ""
}
