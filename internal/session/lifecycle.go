package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sessiongate.local/gateway/internal/adapter"
	"sessiongate.local/gateway/internal/credentials"
	"sessiongate.local/gateway/internal/events"
)

const persistTimeout = 10 * time.Second

// create admits a session for tenantID or returns the live one. A terminal
// entry still in the registry is torn down and replaced. Implicit creation
// honours resume backoff; explicit creation does not.
func (m *Manager) create(ctx context.Context, tenantID string, explicit bool) (*entry, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if !explicit {
		if wait, blocked := m.resume.blocked(tenantID, m.now()); blocked {
			m.metrics.ResumeDeferred()
			return nil, fmt.Errorf("%w: retry in %s", ErrResumeBackoff, wait.Round(time.Millisecond))
		}
	}

	for {
		e := newEntry(tenantID, m.now())
		existing, err := m.registry.Admit(tenantID, e)
		if err != nil {
			m.metrics.Admission("at_capacity")
			m.logger.Info().Str("tenant_id", tenantID).Int("capacity", m.registry.Capacity()).Msg("session rejected at capacity")
			return nil, err
		}
		if existing == nil {
			// Shutdown may have snapshotted the registry before this entry landed.
			if m.closed.Load() {
				m.discardAdmitted(ctx, e)
				return nil, ErrManagerClosed
			}
			m.metrics.Admission("admitted")
			m.metrics.SetLiveSessions(m.registry.Len())
			m.metrics.Transition(string(StatusInitializing))
			m.publishStatus(tenantID, "", StatusInitializing, "")
			m.logger.Info().Str("tenant_id", tenantID).Msg("session admitted")

			m.wg.Add(1)
			go m.start(e)
			return e, nil
		}
		if !existing.snapshot().Status.Terminal() {
			return existing, nil
		}
		if err := m.teardown(ctx, existing, teardownOptions{cause: causeReplaced}); err != nil {
			return nil, err
		}
	}
}

// discardAdmitted releases an entry admitted after Shutdown began. It never
// had an adapter, so only the slot is returned.
func (m *Manager) discardAdmitted(ctx context.Context, e *entry) {
	if !e.claim() {
		select {
		case <-e.done:
		case <-ctx.Done():
		}
		return
	}
	defer close(e.done)
	e.mu.Lock()
	e.closing = true
	e.rec.Status = StatusDisconnected
	e.mu.Unlock()
	m.registry.Remove(e.tenantID, e)
	m.logger.Debug().Str("tenant_id", e.tenantID).Msg("admission discarded during shutdown")
}

// start builds the adapter for e and begins its connect sequence.
func (m *Manager) start(e *entry) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	defer cancel()

	blob, err := m.creds.Get(ctx, e.tenantID)
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		m.fail(e, fmt.Sprintf("load credentials: %v", err))
		return
	}

	client, err := m.factory.New(e.tenantID, blob)
	if err != nil {
		m.fail(e, fmt.Sprintf("build adapter: %v", err))
		return
	}
	if !e.attach(client, len(blob) > 0) {
		_ = client.ForceRelease()
		return
	}

	m.wg.Add(1)
	go m.watch(e, client)

	if err := client.Connect(ctx); err != nil {
		m.fail(e, fmt.Sprintf("connect: %v", err))
	}
}

// watch is the single consumer of a client's events.
func (m *Manager) watch(e *entry, client adapter.Client) {
	defer m.wg.Done()
	defer e.watchers.Done()

	stream := client.Events()
	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-stream:
			if !ok {
				m.disconnected(e, "adapter event stream closed")
				return
			}
			m.applyEvent(e, ev)
			if ev.Kind == adapter.EventDisconnected {
				return
			}
		}
	}
}

func (m *Manager) applyEvent(e *entry, ev adapter.Event) {
	now := m.now()
	switch ev.Kind {
	case adapter.EventCredentials:
		m.persistCredentials(e, ev.Credentials, now)
	case adapter.EventMessage:
		m.receiveMessage(e, ev.Message, now)
	case adapter.EventDisconnected:
		m.disconnected(e, ev.Reason)
	default:
		m.transition(e, ev, now)
	}
}

func nextStatus(from Status, kind adapter.EventKind) (Status, bool) {
	switch kind {
	case adapter.EventQR:
		if from == StatusInitializing || from == StatusQR {
			return StatusQR, true
		}
	case adapter.EventAuthenticated:
		if from == StatusInitializing || from == StatusQR {
			return StatusAuthenticated, true
		}
	case adapter.EventReady:
		// A bridge resuming from stored credentials may skip authenticated.
		if from == StatusAuthenticated || from == StatusInitializing {
			return StatusReady, true
		}
	case adapter.EventAuthFailure:
		if from == StatusInitializing || from == StatusQR {
			return StatusError, true
		}
	}
	return from, false
}

func (m *Manager) transition(e *entry, ev adapter.Event, now time.Time) {
	var payload string
	if ev.Kind == adapter.EventQR {
		payload = m.render(e.tenantID, ev.QRCode)
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	e.rec.LastActivity = now
	prev := e.rec.Status
	next, ok := nextStatus(prev, ev.Kind)
	if !ok {
		e.mu.Unlock()
		m.logger.Debug().
			Str("tenant_id", e.tenantID).
			Str("status", string(prev)).
			Str("event", string(ev.Kind)).
			Msg("ignoring adapter event for current status")
		return
	}

	switch next {
	case StatusQR:
		e.rec.QRPayload = payload
	case StatusAuthenticated:
		e.rec.QRPayload = ""
	case StatusReady:
		e.rec.QRPayload = ""
		e.rec.ErrorDetail = ""
		e.reachedReady = true
	case StatusError:
		e.rec.QRPayload = ""
		e.rec.ErrorDetail = ev.Reason
		if e.rec.ErrorDetail == "" {
			e.rec.ErrorDetail = "authentication failed"
		}
	}
	e.rec.Status = next
	if next != prev {
		e.rec.StatusChangedAt = now
	}
	resumed := e.rec.Resumed
	reachedReady := e.reachedReady
	detail := e.rec.ErrorDetail
	e.mu.Unlock()

	switch next {
	case StatusReady:
		m.resume.reset(e.tenantID)
	case StatusError:
		if resumed && !reachedReady {
			m.recordResumeFailure(e.tenantID)
		}
	}

	if ev.Kind == adapter.EventQR {
		m.publisher.Publish(events.New(events.TypeQRUpdated, e.tenantID, now))
	}
	if next != prev {
		m.metrics.Transition(string(next))
		m.publishStatus(e.tenantID, prev, next, detail)
		m.logger.Info().
			Str("tenant_id", e.tenantID).
			Str("from", string(prev)).
			Str("to", string(next)).
			Msg("session status changed")
	}
}

// fail moves e to error. Background failures surface only through status.
func (m *Manager) fail(e *entry, detail string) {
	now := m.now()

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	prev := e.rec.Status
	e.rec.Status = StatusError
	e.rec.ErrorDetail = detail
	e.rec.QRPayload = ""
	e.rec.StatusChangedAt = now
	e.rec.LastActivity = now
	resumed := e.rec.Resumed
	reachedReady := e.reachedReady
	e.mu.Unlock()

	m.logger.Warn().Str("tenant_id", e.tenantID).Str("detail", detail).Msg("session failed")
	if resumed && !reachedReady {
		m.recordResumeFailure(e.tenantID)
	}
	m.metrics.Transition(string(StatusError))
	m.publishStatus(e.tenantID, prev, StatusError, detail)
}

func (m *Manager) disconnected(e *entry, reason string) {
	e.mu.Lock()
	resumed := e.rec.Resumed
	reachedReady := e.reachedReady
	closing := e.closing
	e.mu.Unlock()
	if closing {
		return
	}

	if resumed && !reachedReady {
		m.recordResumeFailure(e.tenantID)
	}
	if reason == "" {
		reason = "adapter disconnected"
	}
	_ = m.teardown(context.Background(), e, teardownOptions{
		cause:       causeDisconnected,
		detail:      reason,
		fromWatcher: true,
	})
}

func (m *Manager) persistCredentials(e *entry, blob []byte, now time.Time) {
	e.mu.Lock()
	closing := e.closing
	if !closing {
		e.rec.LastActivity = now
	}
	e.mu.Unlock()
	if closing || len(blob) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.creds.Put(ctx, e.tenantID, blob); err != nil {
		m.logger.Error().Err(err).Str("tenant_id", e.tenantID).Msg("persist credentials failed")
		return
	}
	m.logger.Debug().Str("tenant_id", e.tenantID).Int("bytes", len(blob)).Msg("credentials persisted")
}

func (m *Manager) receiveMessage(e *entry, msg *adapter.InboundMessage, now time.Time) {
	if msg == nil {
		return
	}
	e.touch(now)
	n := events.New(events.TypeMessageReceived, e.tenantID, now)
	copied := *msg
	n.Message = &copied
	m.publisher.Publish(n)
}

func (m *Manager) render(tenantID, code string) string {
	payload, err := m.renderer.Render(code)
	if err != nil {
		m.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("qr render failed, storing raw code")
		return code
	}
	return payload
}

func (m *Manager) recordResumeFailure(tenantID string) {
	delay := m.resume.failure(tenantID, m.now())
	m.logger.Warn().
		Str("tenant_id", tenantID).
		Int("failures", m.resume.failures(tenantID)).
		Dur("backoff", delay).
		Msg("resume from stored credentials failed")
}

func (m *Manager) publishStatus(tenantID string, prev, next Status, detail string) {
	n := events.New(events.TypeStatusChanged, tenantID, m.now())
	n.Previous = string(prev)
	n.Status = string(next)
	n.Detail = detail
	m.publisher.Publish(n)
}
