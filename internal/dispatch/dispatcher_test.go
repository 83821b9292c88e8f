package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/events"
	"sessiongate.local/gateway/internal/subscribers"
)

type fakeSubscriber struct {
	name      string
	failUntil int
	permanent bool

	mu    sync.Mutex
	calls int
	ch    chan events.Notification
}

func (f *fakeSubscriber) Name() string {
	return f.name
}

func (f *fakeSubscriber) Handle(_ context.Context, n events.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		if f.permanent {
			return backoff.Permanent(errors.New("rejected"))
		}
		return errors.New("forced failure")
	}
	if f.ch != nil {
		f.ch <- n
	}
	return nil
}

func (f *fakeSubscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	sub := &fakeSubscriber{name: "sub", failUntil: 2, ch: make(chan events.Notification, 1)}
	d := New(zerolog.Nop(), []subscribers.Subscriber{sub}, 8)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	n := events.New(events.TypeStatusChanged, "t1", time.Now())
	d.Publish(n)

	select {
	case got := <-sub.ch:
		if got.ID != n.ID {
			t.Fatalf("unexpected notification id: %s", got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatch")
	}

	if calls := sub.Calls(); calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDispatcherStopsAfterRetries(t *testing.T) {
	sub := &fakeSubscriber{name: "sub", failUntil: 10, ch: make(chan events.Notification, 1)}
	d := New(zerolog.Nop(), []subscribers.Subscriber{sub}, 8)

	d.Publish(events.New(events.TypeStatusChanged, "t1", time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}

	if calls := sub.Calls(); calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	select {
	case <-sub.ch:
		t.Fatalf("did not expect successful dispatch")
	default:
	}
}

func TestDispatcherDeliversToEverySubscriber(t *testing.T) {
	first := &fakeSubscriber{name: "first", ch: make(chan events.Notification, 1)}
	second := &fakeSubscriber{name: "second", failUntil: 10}
	third := &fakeSubscriber{name: "third", ch: make(chan events.Notification, 1)}
	d := New(zerolog.Nop(), []subscribers.Subscriber{first, second, third}, 8)

	d.Publish(events.New(events.TypeEvicted, "t1", time.Now()))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}

	if first.Calls() != 1 || third.Calls() != 1 {
		t.Fatalf("expected healthy subscribers to receive once, got %d and %d", first.Calls(), third.Calls())
	}
	if second.Calls() != 3 {
		t.Fatalf("expected failing subscriber to be retried 3 times, got %d", second.Calls())
	}
}

func TestDispatcherDoesNotRetryPermanentFailures(t *testing.T) {
	sub := &fakeSubscriber{name: "sub", failUntil: 10, permanent: true}
	d := New(zerolog.Nop(), []subscribers.Subscriber{sub}, 8)

	d.Publish(events.New(events.TypeQRUpdated, "t1", time.Now()))
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}

	if calls := sub.Calls(); calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
