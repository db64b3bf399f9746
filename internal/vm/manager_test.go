package vm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/digitalocean/godo"
	"github.com/steveyegge/minder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

type fakeDroplets struct {
	createReq  *godo.DropletCreateRequest
	createErr  error
	getCount   int
	readyAfter int // Get reports active+IP from this call number on; 0 = never
	deleted    []int
	deleteErr  error
	deleteCode int
	listed     []godo.Droplet
}

func (f *fakeDroplets) Create(ctx context.Context, req *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error) {
	f.createReq = req
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	return &godo.Droplet{ID: 101, Name: req.Name, Status: "new"}, nil, nil
}

func (f *fakeDroplets) Get(ctx context.Context, id int) (*godo.Droplet, *godo.Response, error) {
	f.getCount++
	droplet := &godo.Droplet{ID: id, Status: "new"}
	if f.readyAfter > 0 && f.getCount >= f.readyAfter {
		droplet.Status = "active"
		droplet.Networks = &godo.Networks{
			V4: []godo.NetworkV4{{IPAddress: "203.0.113.7", Type: "public"}},
		}
	}
	return droplet, nil, nil
}

func (f *fakeDroplets) Delete(ctx context.Context, id int) (*godo.Response, error) {
	f.deleted = append(f.deleted, id)
	if f.deleteErr != nil {
		resp := &godo.Response{Response: &http.Response{StatusCode: f.deleteCode}}
		return resp, f.deleteErr
	}
	return nil, nil
}

func (f *fakeDroplets) ListByTag(ctx context.Context, tag string, opt *godo.ListOptions) ([]godo.Droplet, *godo.Response, error) {
	return f.listed, &godo.Response{}, nil
}

func newTestManager(t *testing.T, droplets *fakeDroplets, clock *fakeClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Droplets: droplets,
		Poll: PollPolicy{
			Interval:    10 * time.Second,
			SettleDelay: 5 * time.Second,
			MaxWait:     30 * time.Second,
		},
		Clock:  clock,
		KeyDir: t.TempDir(),
	})
	require.NoError(t, err)
	return m
}

func TestProvisionWaitsForAddress(t *testing.T) {
	droplets := &fakeDroplets{readyAfter: 3}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(t, droplets, clock)

	instance, err := m.Provision(context.Background(), "1234-abcd", "", "")
	require.NoError(t, err)

	assert.Equal(t, 101, instance.ID)
	assert.Equal(t, "203.0.113.7", instance.IP)
	assert.Equal(t, types.VMReady, instance.Status)
	assert.Equal(t, "1234-abcd", instance.TicketID)
	assert.Equal(t, 3, droplets.getCount)
	assert.Empty(t, droplets.deleted, "a successful provision must not destroy the droplet")

	// Two poll intervals plus the settle delay.
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 5 * time.Second}, clock.slept)

	require.NotNil(t, droplets.createReq)
	assert.Contains(t, droplets.createReq.Tags, ManagedTag)
	assert.Contains(t, droplets.createReq.Tags, "minder-1234-abcd")
	assert.NotEmpty(t, droplets.createReq.UserData)
}

func TestProvisionTimeoutDestroysDroplet(t *testing.T) {
	droplets := &fakeDroplets{readyAfter: 0}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(t, droplets, clock)

	_, err := m.Provision(context.Background(), "1234-abcd", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready after")

	// The half-provisioned droplet must not be leaked.
	assert.Equal(t, []int{101}, droplets.deleted)
}

func TestProvisionSizeAndRegionOverrides(t *testing.T) {
	droplets := &fakeDroplets{readyAfter: 1}
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, droplets, clock)

	_, err := m.Provision(context.Background(), "t1", "s-4vcpu-8gb", "nyc1")
	require.NoError(t, err)
	assert.Equal(t, "s-4vcpu-8gb", droplets.createReq.Size)
	assert.Equal(t, "nyc1", droplets.createReq.Region)
}

func TestTeardownIdempotent(t *testing.T) {
	droplets := &fakeDroplets{}
	m := newTestManager(t, droplets, &fakeClock{now: time.Now()})

	instance := &types.VMInstance{ID: 55, TicketID: "t1"}
	require.NoError(t, m.Teardown(context.Background(), instance))

	// Second teardown: the API reports 404, which is success.
	droplets.deleteErr = fmt.Errorf("404 droplet not found")
	droplets.deleteCode = http.StatusNotFound
	require.NoError(t, m.Teardown(context.Background(), instance))

	// Nil instance is a no-op.
	require.NoError(t, m.Teardown(context.Background(), nil))
	assert.Equal(t, []int{55, 55}, droplets.deleted)
}

func TestTeardownPropagatesNon404Errors(t *testing.T) {
	droplets := &fakeDroplets{
		deleteErr:  fmt.Errorf("500 internal server error"),
		deleteCode: http.StatusInternalServerError,
	}
	m := newTestManager(t, droplets, &fakeClock{now: time.Now()})

	err := m.Teardown(context.Background(), &types.VMInstance{ID: 55})
	assert.Error(t, err)
}

func TestTeardownRemovesKeyFiles(t *testing.T) {
	droplets := &fakeDroplets{}
	keyDir := t.TempDir()
	m, err := NewManager(Config{
		Droplets: droplets,
		Clock:    &fakeClock{now: time.Now()},
		KeyDir:   keyDir,
	})
	require.NoError(t, err)

	keyPath := filepath.Join(keyDir, "t1_ed25519")
	require.NoError(t, os.WriteFile(keyPath, []byte("key"), 0600))
	otherPath := filepath.Join(keyDir, "t2_ed25519")
	require.NoError(t, os.WriteFile(otherPath, []byte("key"), 0600))

	require.NoError(t, m.Teardown(context.Background(), &types.VMInstance{ID: 55, TicketID: "t1"}))

	assert.NoFileExists(t, keyPath)
	assert.FileExists(t, otherPath, "other tickets' keys must survive")
}

func TestReconcileFlagsOrphans(t *testing.T) {
	droplets := &fakeDroplets{
		listed: []godo.Droplet{
			{
				ID:     1,
				Name:   "minder-live",
				Status: "active",
				Tags:   []string{ManagedTag, "minder-live-ticket"},
				Size:   &godo.Size{PriceHourly: 0.03},
			},
			{
				ID:     2,
				Name:   "minder-orphan",
				Status: "active",
				Tags:   []string{ManagedTag, "minder-dead-ticket"},
				Size:   &godo.Size{PriceHourly: 0.06},
			},
		},
	}
	m := newTestManager(t, droplets, &fakeClock{now: time.Now()})

	out, err := m.Reconcile(context.Background(), map[string]bool{"live-ticket": true})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.False(t, out[0].Orphan)
	assert.Equal(t, "live-ticket", out[0].TicketID)
	assert.True(t, out[1].Orphan)
	assert.Equal(t, "dead-ticket", out[1].TicketID)
	assert.InDelta(t, 0.09, TotalHourlyCost(out), 1e-9)
}
