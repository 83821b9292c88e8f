package journal

import (
	"context"

	"sessiongate.local/gateway/internal/events"
)

const DefaultLimit = 50

// Store keeps recent notifications per tenant for the history endpoint.
type Store interface {
	Append(ctx context.Context, n events.Notification) error
	// Recent returns up to limit notifications for tenantID, oldest first.
	Recent(ctx context.Context, tenantID string, limit int) ([]events.Notification, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
