package events

import (
	"time"

	"sessiongate.local/gateway/internal/adapter"
	"sessiongate.local/gateway/internal/ids"
)

type Type string

const (
	TypeStatusChanged   Type = "session.status_changed"
	TypeQRUpdated       Type = "session.qr_updated"
	TypeEvicted         Type = "session.evicted"
	TypeMessageReceived Type = "message.received"
)

// Notification is the outbound record of something that happened to a tenant session.
type Notification struct {
	ID         string                  `json:"id"`
	Type       Type                    `json:"type"`
	TenantID   string                  `json:"tenant_id"`
	OccurredAt time.Time               `json:"occurred_at"`
	Status     string                  `json:"status,omitempty"`
	Previous   string                  `json:"previous_status,omitempty"`
	Detail     string                  `json:"detail,omitempty"`
	Message    *adapter.InboundMessage `json:"message,omitempty"`
}

func New(typ Type, tenantID string, at time.Time) Notification {
	return Notification{
		ID:         ids.New(),
		Type:       typ,
		TenantID:   tenantID,
		OccurredAt: at.UTC(),
	}
}

// Publisher accepts notifications for asynchronous delivery. Publish never blocks.
type Publisher interface {
	Publish(Notification)
}

type PublisherFunc func(Notification)

func (f PublisherFunc) Publish(n Notification) {
	f(n)
}

// Discard drops every notification.
var Discard Publisher = PublisherFunc(func(Notification) {})
