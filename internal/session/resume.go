package session

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// resumeTracker spaces out implicit re-creation of tenants whose stored
// credentials keep failing to resume. The delay doubles per failure up to max.
type resumeTracker struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	tenants map[string]*resumeState
}

type resumeState struct {
	policy   *backoff.ExponentialBackOff
	failures int
	until    time.Time
}

func newResumeTracker(initial, max time.Duration) *resumeTracker {
	if initial <= 0 {
		initial = 5 * time.Second
	}
	if max < initial {
		max = initial
	}
	return &resumeTracker{
		initial: initial,
		max:     max,
		tenants: make(map[string]*resumeState),
	}
}

func (t *resumeTracker) newPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.initial
	policy.MaxInterval = t.max
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// failure records a failed resume at now and returns the delay imposed.
func (t *resumeTracker) failure(tenantID string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tenants[tenantID]
	if !ok {
		st = &resumeState{policy: t.newPolicy()}
		t.tenants[tenantID] = st
	}
	delay := st.policy.NextBackOff()
	if delay == backoff.Stop || delay > t.max {
		delay = t.max
	}
	st.failures++
	st.until = now.Add(delay)
	return delay
}

// blocked reports how long implicit creation must still wait for tenantID.
func (t *resumeTracker) blocked(tenantID string, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tenants[tenantID]
	if !ok || !now.Before(st.until) {
		return 0, false
	}
	return st.until.Sub(now), true
}

func (t *resumeTracker) failures(tenantID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.tenants[tenantID]; ok {
		return st.failures
	}
	return 0
}

func (t *resumeTracker) reset(tenantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tenants, tenantID)
}
