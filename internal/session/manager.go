package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/adapter"
	"sessiongate.local/gateway/internal/credentials"
	"sessiongate.local/gateway/internal/events"
	"sessiongate.local/gateway/internal/metrics"
	"sessiongate.local/gateway/internal/qrcode"
	"sessiongate.local/gateway/internal/validate"
)

const (
	defaultSendTimeout    = 30 * time.Second
	defaultSignOffTimeout = 5 * time.Second
	defaultConnectTimeout = 30 * time.Second
)

type Options struct {
	MaxSessions          int
	IdleTimeout          time.Duration
	SendTimeout          time.Duration
	SignOffTimeout       time.Duration
	ConnectTimeout       time.Duration
	ResumeInitialBackoff time.Duration
	ResumeMaxBackoff     time.Duration
}

type Option func(*Manager)

func WithRenderer(renderer qrcode.Renderer) Option {
	return func(m *Manager) {
		if renderer != nil {
			m.renderer = renderer
		}
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(m *Manager) {
		if publisher != nil {
			m.publisher = publisher
		}
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the only writer of session records. Adapter events for a tenant
// are consumed by one watcher goroutine per entry; request paths and the idle
// sweeper share the same teardown entry point.
type Manager struct {
	logger    zerolog.Logger
	registry  *Registry
	factory   adapter.Factory
	creds     credentials.Store
	renderer  qrcode.Renderer
	publisher events.Publisher
	metrics   *metrics.Metrics
	resume    *resumeTracker
	opts      Options
	now       func() time.Time

	closed atomic.Bool
	wg     sync.WaitGroup
}

func NewManager(logger zerolog.Logger, factory adapter.Factory, creds credentials.Store, opts Options, extra ...Option) *Manager {
	if factory == nil {
		panic("session: adapter factory is required")
	}
	if creds == nil {
		panic("session: credential store is required")
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 50
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.SignOffTimeout <= 0 {
		opts.SignOffTimeout = defaultSignOffTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	m := &Manager{
		logger:    logger.With().Str("component", "session_manager").Logger(),
		registry:  NewRegistry(opts.MaxSessions),
		factory:   factory,
		creds:     creds,
		renderer:  qrcode.NewPNGRenderer(),
		publisher: events.Discard,
		resume:    newResumeTracker(opts.ResumeInitialBackoff, opts.ResumeMaxBackoff),
		opts:      opts,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range extra {
		if opt != nil {
			opt(m)
		}
	}
	m.metrics.SetCapacity(opts.MaxSessions)
	return m
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Status reports the tenant's status. Unknown tenants are disconnected.
func (m *Manager) Status(tenantID string) (Status, error) {
	if err := checkTenant(tenantID); err != nil {
		return "", err
	}
	e, ok := m.registry.Get(tenantID)
	if !ok {
		return StatusDisconnected, nil
	}
	return e.touch(m.now()).Status, nil
}

// Snapshot returns the tenant's record, or a disconnected record if it has none.
func (m *Manager) Snapshot(tenantID string) (Record, error) {
	if err := checkTenant(tenantID); err != nil {
		return Record{}, err
	}
	e, ok := m.registry.Get(tenantID)
	if !ok {
		return Record{TenantID: tenantID, Status: StatusDisconnected}, nil
	}
	return e.touch(m.now()), nil
}

// List returns a copy of every live record in tenant order.
func (m *Manager) List() []Record {
	out := make([]Record, 0, m.registry.Len())
	m.registry.ForEach(func(_ string, e *entry) bool {
		out = append(out, e.snapshot())
		return true
	})
	return out
}

// QR reports the tenant's authentication code state. Polling a tenant with no
// live session, or one left in disconnected or error, admits a fresh one
// subject to capacity and resume backoff; this is the only admission path
// besides Restore and Reconnect.
func (m *Manager) QR(ctx context.Context, tenantID string) (QRResult, error) {
	if err := checkTenant(tenantID); err != nil {
		return QRResult{}, err
	}

	if e, ok := m.registry.Get(tenantID); ok {
		rec := e.touch(m.now())
		if !rec.Status.Terminal() {
			return qrResultFor(rec), nil
		}
	}

	e, err := m.create(ctx, tenantID, false)
	if err != nil {
		return QRResult{}, err
	}
	rec := e.touch(m.now())
	if rec.Status == StatusDisconnected {
		return QRResult{State: QRStatePending, Status: StatusInitializing}, nil
	}
	return qrResultFor(rec), nil
}

func qrResultFor(rec Record) QRResult {
	switch {
	case rec.Status.Connected():
		return QRResult{State: QRStateConnected, Status: rec.Status}
	case rec.Status == StatusQR && rec.QRPayload != "":
		return QRResult{State: QRStateAvailable, Status: rec.Status, Payload: rec.QRPayload}
	default:
		return QRResult{State: QRStatePending, Status: rec.Status, Detail: rec.ErrorDetail}
	}
}

// Send delivers body to destination through the tenant's adapter. The session
// must be ready; a failed send never changes its status.
func (m *Manager) Send(ctx context.Context, tenantID, destination, body string) (adapter.SendResult, error) {
	if err := checkTenant(tenantID); err != nil {
		return adapter.SendResult{}, err
	}
	// every attempt counts as activity, including ones rejected below
	e, ok := m.registry.Get(tenantID)
	var rec Record
	if ok {
		rec = e.touch(m.now())
	}

	normalized, err := validate.Destination(destination)
	if err != nil {
		return adapter.SendResult{}, err
	}
	if err := validate.Body(body); err != nil {
		return adapter.SendResult{}, err
	}

	if !ok {
		return adapter.SendResult{}, fmt.Errorf("%w: status %s", ErrNotReady, StatusDisconnected)
	}
	client := e.adapterClient()
	if rec.Status != StatusReady || client == nil {
		return adapter.SendResult{}, fmt.Errorf("%w: status %s", ErrNotReady, rec.Status)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()
	res, err := client.Send(sendCtx, normalized, body)
	m.metrics.MessageSent(err == nil)
	if err != nil {
		m.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("send failed")
		return adapter.SendResult{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return res, nil
}

// Info returns the signed-in account details.
func (m *Manager) Info(_ context.Context, tenantID string) (adapter.AccountInfo, error) {
	_, client, err := m.connectedClient(tenantID)
	if err != nil {
		return adapter.AccountInfo{}, err
	}
	info, ok := client.Info()
	if !ok {
		return adapter.AccountInfo{}, ErrInfoPending
	}
	return info, nil
}

// ProfilePicture returns the signed-in account's profile picture URL.
func (m *Manager) ProfilePicture(ctx context.Context, tenantID string) (string, error) {
	_, client, err := m.connectedClient(tenantID)
	if err != nil {
		return "", err
	}
	if _, ok := client.Info(); !ok {
		return "", ErrInfoPending
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()
	url, err := client.ProfilePictureURL(reqCtx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return url, nil
}

func (m *Manager) connectedClient(tenantID string) (Record, adapter.Client, error) {
	if err := checkTenant(tenantID); err != nil {
		return Record{}, nil, err
	}
	e, ok := m.registry.Get(tenantID)
	if !ok {
		return Record{}, nil, fmt.Errorf("%w: status %s", ErrNotReady, StatusDisconnected)
	}
	rec := e.touch(m.now())
	if !rec.Status.Connected() {
		return rec, nil, fmt.Errorf("%w: status %s", ErrNotReady, rec.Status)
	}
	client := e.adapterClient()
	if client == nil {
		return rec, nil, ErrInfoPending
	}
	return rec, client, nil
}

// Reconnect tears the tenant's session down without touching its stored
// credentials and admits a fresh one. It ignores resume backoff.
func (m *Manager) Reconnect(ctx context.Context, tenantID string) (Record, error) {
	if err := checkTenant(tenantID); err != nil {
		return Record{}, err
	}
	m.resume.reset(tenantID)

	if e, ok := m.registry.Get(tenantID); ok {
		if err := m.teardown(ctx, e, teardownOptions{cause: causeReconnect, signOff: true}); err != nil {
			return Record{}, err
		}
	}

	e, err := m.create(ctx, tenantID, true)
	if err != nil {
		return Record{}, err
	}
	return e.snapshot(), nil
}

// Logout signs the tenant out, revoking the device link, and deletes its
// stored credentials whether or not a session is live.
func (m *Manager) Logout(ctx context.Context, tenantID string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	m.resume.reset(tenantID)

	e, ok := m.registry.Get(tenantID)
	if !ok {
		if _, err := m.creds.Delete(ctx, tenantID); err != nil {
			return fmt.Errorf("delete credentials: %w", err)
		}
		return nil
	}
	return m.teardown(ctx, e, teardownOptions{cause: causeLogout, signOff: true, revoke: true, deleteCredentials: true})
}

// EvictIdle tears down every session idle for longer than the idle timeout
// and reports how many it evicted. Stored credentials are kept.
func (m *Manager) EvictIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.opts.IdleTimeout)

	var idle []*entry
	m.registry.ForEach(func(_ string, e *entry) bool {
		if e.snapshot().LastActivity.Before(cutoff) {
			idle = append(idle, e)
		}
		return true
	})

	evicted := 0
	for _, e := range idle {
		// Activity may have arrived since the snapshot.
		if !e.snapshot().LastActivity.Before(cutoff) {
			continue
		}
		if !e.claimable() {
			continue
		}
		if err := m.teardown(ctx, e, teardownOptions{cause: causeEviction, signOff: true}); err != nil {
			m.logger.Warn().Err(err).Str("tenant_id", e.tenantID).Msg("idle eviction failed")
			continue
		}
		m.metrics.Eviction()
		evicted++
	}
	return evicted
}

// Restore admits a session for every tenant with stored credentials while
// capacity allows. Tenants beyond capacity are skipped.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	tenantIDs, err := m.creds.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored credentials: %w", err)
	}

	restored := 0
	for _, tenantID := range tenantIDs {
		if err := checkTenant(tenantID); err != nil {
			m.logger.Warn().Str("tenant_id", tenantID).Msg("skipping stored credentials with invalid tenant id")
			continue
		}
		_, err := m.create(ctx, tenantID, false)
		switch {
		case err == nil:
			restored++
		case errors.Is(err, ErrAtCapacity):
			m.logger.Warn().Str("tenant_id", tenantID).Int("capacity", m.registry.Capacity()).Msg("skipping restore, at capacity")
		default:
			m.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("skipping restore")
		}
	}
	m.logger.Info().Int("restored", restored).Int("stored", len(tenantIDs)).Msg("restored sessions from stored credentials")
	return restored, nil
}

// Wait blocks until every watcher and background connect has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func checkTenant(tenantID string) error {
	if err := validate.TenantID(tenantID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}
	return nil
}
