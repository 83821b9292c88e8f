package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"sessiongate.local/gateway/internal/events"
)

type teardownCause string

const (
	causeLogout       teardownCause = "logout"
	causeReconnect    teardownCause = "reconnect"
	causeEviction     teardownCause = "idle_eviction"
	causeDisconnected teardownCause = "disconnected"
	causeReplaced     teardownCause = "replaced"
	causeShutdown     teardownCause = "shutdown"
)

type teardownOptions struct {
	cause             teardownCause
	detail            string
	signOff           bool
	revoke            bool
	deleteCredentials bool
	// fromWatcher is set when the entry's own watcher drives the teardown.
	fromWatcher bool
}

// teardown releases e exactly once: sign-off if asked, then ForceRelease,
// registry removal and, for logout, credential deletion. A caller that loses
// the claim waits for the winner and then performs any credential deletion
// the winner skipped.
func (m *Manager) teardown(ctx context.Context, e *entry, opts teardownOptions) error {
	if !e.claim() {
		if opts.fromWatcher {
			return nil
		}
		select {
		case <-e.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for teardown of %s: %w", e.tenantID, ctx.Err())
		}
		if opts.deleteCredentials {
			m.deleteCredentials(ctx, e)
		}
		return nil
	}
	defer close(e.done)

	now := m.now()
	e.stopWatcher()
	e.mu.Lock()
	e.closing = true
	client := e.client
	prev := e.rec.Status
	e.rec.Status = StatusDisconnected
	e.rec.QRPayload = ""
	e.rec.ErrorDetail = ""
	e.rec.StatusChangedAt = now
	e.mu.Unlock()

	if client != nil {
		if opts.signOff {
			signOffCtx, cancel := context.WithTimeout(ctx, m.opts.SignOffTimeout)
			if err := client.Logout(signOffCtx, opts.revoke); err != nil {
				m.logger.Warn().Err(err).Str("tenant_id", e.tenantID).Str("cause", string(opts.cause)).Msg("adapter sign-off failed, forcing release")
			}
			cancel()
		}
		if err := client.ForceRelease(); err != nil {
			m.logger.Warn().Err(err).Str("tenant_id", e.tenantID).Msg("adapter force release failed")
		}
	}
	if !opts.fromWatcher {
		e.watchers.Wait()
	}

	m.registry.Remove(e.tenantID, e)
	if opts.deleteCredentials {
		m.deleteCredentials(ctx, e)
	}

	m.metrics.Teardown(string(opts.cause))
	m.metrics.SetLiveSessions(m.registry.Len())
	m.metrics.Transition(string(StatusDisconnected))

	detail := opts.detail
	if detail == "" {
		detail = string(opts.cause)
	}
	m.publishStatus(e.tenantID, prev, StatusDisconnected, detail)
	if opts.cause == causeEviction {
		m.publisher.Publish(events.New(events.TypeEvicted, e.tenantID, now))
	}
	m.logger.Info().
		Str("tenant_id", e.tenantID).
		Str("cause", string(opts.cause)).
		Str("from", string(prev)).
		Bool("credentials_deleted", opts.deleteCredentials).
		Msg("session torn down")
	return nil
}

// deleteCredentials removes the tenant's blob at most once per entry.
func (m *Manager) deleteCredentials(ctx context.Context, e *entry) {
	if !e.credsDeleted.CompareAndSwap(false, true) {
		return
	}
	if _, err := m.creds.Delete(context.WithoutCancel(ctx), e.tenantID); err != nil {
		m.logger.Error().Err(err).Str("tenant_id", e.tenantID).Msg("delete credentials failed")
	}
}

// Shutdown tears down every live session concurrently without deleting
// credentials and refuses new ones. It returns when all teardowns finish or
// ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)

	var live []*entry
	m.registry.ForEach(func(_ string, e *entry) bool {
		live = append(live, e)
		return true
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range live {
		e := e
		g.Go(func() error {
			return m.teardown(gctx, e, teardownOptions{cause: causeShutdown, signOff: true})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown sessions: %w", err)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for session goroutines: %w", ctx.Err())
	}
	m.logger.Info().Int("sessions", len(live)).Msg("session manager shut down")
	return nil
}
