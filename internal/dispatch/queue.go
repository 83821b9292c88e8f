package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/events"
)

var (
	ErrQueueFull   = errors.New("tenant notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

const defaultWorkerIdle = 30 * time.Second

type Handler func(context.Context, events.Notification)

// Queue runs one worker per tenant so notifications for a tenant are handled
// in order while tenants proceed independently. Workers exit after sitting idle.
type Queue struct {
	logger     zerolog.Logger
	handler    Handler
	queueSize  int
	workerIdle time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type worker struct {
	ch chan events.Notification
}

func NewQueue(logger zerolog.Logger, queueSize int, handler Handler) *Queue {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Queue{
		logger:     logger,
		handler:    handler,
		queueSize:  queueSize,
		workerIdle: defaultWorkerIdle,
		workers:    make(map[string]*worker),
	}
}

func (q *Queue) Enqueue(n events.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	w := q.workerForLocked(n.TenantID)
	select {
	case w.ch <- n:
		return nil
	default:
		q.logger.Warn().Str("tenant_id", n.TenantID).Str("notification_type", string(n.Type)).Msg("notification queue full")
		return ErrQueueFull
	}
}

// Pending reports how many tenants currently have a live worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Close stops accepting notifications and waits for queued ones to be handled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, w := range q.workers {
			close(w.ch)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) workerForLocked(key string) *worker {
	if w, ok := q.workers[key]; ok {
		return w
	}

	w := &worker{ch: make(chan events.Notification, q.queueSize)}
	q.workers[key] = w
	q.wg.Add(1)
	go q.run(key, w)
	return w
}

func (q *Queue) run(key string, w *worker) {
	defer q.wg.Done()

	idle := time.NewTimer(q.workerIdle)
	defer idle.Stop()
	for {
		select {
		case n, ok := <-w.ch:
			if !ok {
				return
			}
			q.handler(context.Background(), n)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.workerIdle)
		case <-idle.C:
			if q.retire(key, w) {
				return
			}
			idle.Reset(q.workerIdle)
		}
	}
}

// retire removes an empty worker. Enqueue sends under q.mu, so an empty
// channel observed here stays empty until the worker is gone.
func (q *Queue) retire(key string, w *worker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(w.ch) > 0 {
		return false
	}
	if q.workers[key] == w {
		delete(q.workers, key)
	}
	return true
}
