package journal

import (
	"context"

	"sessiongate.local/gateway/internal/events"
	journalstore "sessiongate.local/gateway/internal/journal"
)

// Subscriber records every notification in the journal store.
type Subscriber struct {
	store journalstore.Store
}

func New(store journalstore.Store) *Subscriber {
	return &Subscriber{store: store}
}

func (s *Subscriber) Name() string {
	return "journal"
}

func (s *Subscriber) Handle(ctx context.Context, n events.Notification) error {
	return s.store.Append(ctx, n)
}
