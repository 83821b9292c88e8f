package adapter

import (
	"context"
	"errors"
	"time"
)

type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventAuthFailure   EventKind = "auth_failure"
	EventDisconnected  EventKind = "disconnected"
	// EventCredentials carries a refreshed credential blob to persist.
	EventCredentials EventKind = "credentials"
	EventMessage     EventKind = "message"
)

var ErrClosed = errors.New("adapter closed")

type Event struct {
	Kind        EventKind
	QRCode      string
	Reason      string
	Credentials []byte
	Message     *InboundMessage
	Info        *AccountInfo
}

type InboundMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

type AccountInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Platform string `json:"platform,omitempty"`
}

type SendResult struct {
	MessageID string `json:"message_id"`
}

// Client is one tenant's handle to the external messaging client.
//
// Events is closed once the client is released. ForceRelease must be safe
// to call after Logout and must not block on the remote side.
type Client interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	Send(ctx context.Context, destination, body string) (SendResult, error)
	Logout(ctx context.Context, revoke bool) error
	ForceRelease() error
	Info() (AccountInfo, bool)
	ProfilePictureURL(ctx context.Context) (string, error)
}

// Factory builds a client for tenantID. credentials is nil when nothing is stored.
type Factory interface {
	New(tenantID string, credentials []byte) (Client, error)
}

type FactoryFunc func(tenantID string, credentials []byte) (Client, error)

func (f FactoryFunc) New(tenantID string, credentials []byte) (Client, error) {
	return f(tenantID, credentials)
}
