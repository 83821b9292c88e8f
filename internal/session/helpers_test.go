package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sessiongate.local/gateway/internal/adapter"
	"sessiongate.local/gateway/internal/adapter/adaptertest"
	"sessiongate.local/gateway/internal/credentials"
	"sessiongate.local/gateway/internal/events"
	"sessiongate.local/gateway/internal/qrcode"
)

const waitTimeout = 2 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore counts deletions that actually removed a blob.
type countingStore struct {
	credentials.Store
	deletes atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{Store: credentials.NewMemoryStore()}
}

func (s *countingStore) Delete(ctx context.Context, tenantID string) (bool, error) {
	ok, err := s.Store.Delete(ctx, tenantID)
	if ok {
		s.deletes.Add(1)
	}
	return ok, err
}

func (s *countingStore) Deletes() int {
	return int(s.deletes.Load())
}

type recorder struct {
	mu    sync.Mutex
	items []events.Notification
}

func (r *recorder) Publish(n events.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recorder) Filter(tenantID string, typ events.Type) []events.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Notification
	for _, n := range r.items {
		if n.TenantID == tenantID && n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	manager *Manager
	factory *adaptertest.Factory
	store   *countingStore
	clock   *fakeClock
	events  *recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		factory: adaptertest.NewFactory(),
		store:   newCountingStore(),
		clock:   newFakeClock(),
		events:  &recorder{},
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = time.Minute
	}
	h.manager = NewManager(zerolog.Nop(), h.factory, h.store, opts,
		WithRenderer(qrcode.RawRenderer{}),
		WithPublisher(h.events),
		WithClock(h.clock.Now),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = h.manager.Shutdown(ctx)
	})
	return h
}

func (h *harness) waitStatus(t *testing.T, tenantID string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := h.manager.Status(tenantID)
		return err == nil && got == want
	}, waitTimeout, 5*time.Millisecond, "tenant %s never reached %s", tenantID, want)
}

func (h *harness) waitClient(t *testing.T, tenantID string, seq int) *adaptertest.Client {
	t.Helper()
	var client *adaptertest.Client
	require.Eventually(t, func() bool {
		clients := h.factory.Clients(tenantID)
		if len(clients) < seq {
			return false
		}
		client = clients[seq-1]
		return client.Connects() > 0
	}, waitTimeout, 5*time.Millisecond, "client %d for %s never connected", seq, tenantID)
	return client
}

// ready drives tenantID through qr, authenticated and ready, persisting blob.
func (h *harness) ready(t *testing.T, tenantID string, blob []byte) *adaptertest.Client {
	t.Helper()
	_, err := h.manager.QR(context.Background(), tenantID)
	require.NoError(t, err)
	h.waitStatus(t, tenantID, StatusQR)

	client := h.factory.Latest(tenantID)
	require.True(t, client.Emit(adapter.Event{Kind: adapter.EventAuthenticated}))
	if blob != nil {
		require.True(t, client.Emit(adapter.Event{Kind: adapter.EventCredentials, Credentials: blob}))
	}
	require.True(t, client.Emit(adapter.Event{Kind: adapter.EventReady}))
	h.waitStatus(t, tenantID, StatusReady)
	return client
}
