package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/events"
)

func notification(tenantID, detail string) events.Notification {
	n := events.New(events.TypeStatusChanged, tenantID, time.Now())
	n.Detail = detail
	return n
}

func TestQueueOrderingPerTenant(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]string{}
	handler := func(_ context.Context, n events.Notification) {
		mu.Lock()
		got[n.TenantID] = append(got[n.TenantID], n.Detail)
		mu.Unlock()
	}

	q := NewQueue(zerolog.Nop(), 16, handler)
	for i := 0; i < 5; i++ {
		for _, tenant := range []string{"t1", "t2"} {
			if err := q.Enqueue(notification(tenant, fmt.Sprintf("n%d", i))); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
		}
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close queue: %v", err)
	}

	want := map[string][]string{
		"t1": {"n0", "n1", "n2", "n3", "n4"},
		"t2": {"n0", "n1", "n2", "n3", "n4"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected delivery order (-want +got):\n%s", diff)
	}
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	handler := func(_ context.Context, _ events.Notification) {
		started <- struct{}{}
		<-block
	}

	q := NewQueue(zerolog.Nop(), 1, handler)
	if err := q.Enqueue(notification("t1", "n1")); err != nil {
		t.Fatalf("enqueue n1 failed: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for worker start")
	}
	if err := q.Enqueue(notification("t1", "n2")); err != nil {
		t.Fatalf("enqueue n2 failed: %v", err)
	}
	if err := q.Enqueue(notification("t1", "n3")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := q.Enqueue(notification("t2", "n1")); err != nil {
		t.Fatalf("other tenants must not be affected: %v", err)
	}

	close(block)
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close queue: %v", err)
	}
	if err := q.Enqueue(notification("t1", "late")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueRetiresIdleWorkers(t *testing.T) {
	handled := make(chan struct{}, 2)
	q := NewQueue(zerolog.Nop(), 4, func(context.Context, events.Notification) {
		handled <- struct{}{}
	})
	q.workerIdle = 20 * time.Millisecond

	if err := q.Enqueue(notification("t1", "n1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	<-handled

	deadline := time.Now().Add(2 * time.Second)
	for q.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker was not retired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := q.Enqueue(notification("t1", "n2")); err != nil {
		t.Fatalf("enqueue after retirement failed: %v", err)
	}
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("notification after retirement was not handled")
	}
	_ = q.Close(context.Background())
}
