package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/events"
	"sessiongate.local/gateway/internal/subscribers"
)

const deliveryTimeout = 15 * time.Second

// Dispatcher fans notifications out to subscribers with bounded retry.
type Dispatcher struct {
	logger       zerolog.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration
	queue        *Queue
}

func New(logger zerolog.Logger, subs []subscribers.Subscriber, queueSize int) *Dispatcher {
	d := &Dispatcher{
		logger:       logger.With().Str("component", "dispatch").Logger(),
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
	d.queue = NewQueue(d.logger, queueSize, d.deliver)
	return d
}

// Publish queues n on its tenant's worker. A full queue drops n.
func (d *Dispatcher) Publish(n events.Notification) {
	if len(d.subscribers) == 0 {
		return
	}
	if err := d.queue.Enqueue(n); err != nil {
		d.logger.Warn().Err(err).Str("notification_id", n.ID).Str("tenant_id", n.TenantID).Msg("dropping notification")
	}
}

func (d *Dispatcher) Close(ctx context.Context) error {
	return d.queue.Close(ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, n events.Notification) {
	for _, sub := range d.subscribers {
		d.deliverOne(ctx, sub, n)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, sub subscribers.Subscriber, n events.Notification) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryBackoff), uint64(d.retryCount-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempt++
		return sub.Handle(ctx, n)
	}, policy)
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("subscriber", sub.Name()).
			Str("notification_id", n.ID).
			Int("attempts", attempt).
			Msg("notification delivery failed")
	}
}
