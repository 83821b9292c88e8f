// Package adaptertest provides an in-memory adapter for exercising session
// lifecycles without a bridge.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"sessiongate.local/gateway/internal/adapter"
)

const eventBuffer = 32

type Sent struct {
	Destination string
	Body        string
}

// Factory records every client it builds. By default Connect emits a QR code
// when no credentials were supplied and ready when they were.
type Factory struct {
	mu      sync.Mutex
	clients map[string][]*Client
	total   int

	connect func(c *Client) error
	logout  func(ctx context.Context, c *Client) error
	sendErr error
}

func NewFactory() *Factory {
	return &Factory{clients: make(map[string][]*Client)}
}

// OnConnect replaces the default connect behaviour.
func (f *Factory) OnConnect(fn func(c *Client) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connect = fn
}

// OnLogout replaces the default sign-off, which succeeds immediately.
func (f *Factory) OnLogout(fn func(ctx context.Context, c *Client) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logout = fn
}

// FailSends makes every subsequent Send return err. A nil err restores success.
func (f *Factory) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *Factory) New(tenantID string, credentials []byte) (adapter.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total++
	c := &Client{
		TenantID:    tenantID,
		Credentials: append([]byte(nil), credentials...),
		Seq:         len(f.clients[tenantID]) + 1,
		factory:     f,
		events:      make(chan adapter.Event, eventBuffer),
	}
	if len(credentials) == 0 {
		c.Credentials = nil
	}
	f.clients[tenantID] = append(f.clients[tenantID], c)
	return c, nil
}

// Clients returns every client built for tenantID, oldest first.
func (f *Factory) Clients(tenantID string) []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Client(nil), f.clients[tenantID]...)
}

// Latest returns the newest client for tenantID, or nil.
func (f *Factory) Latest(tenantID string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.clients[tenantID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *Factory) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *Factory) hooks() (func(*Client) error, func(context.Context, *Client) error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connect, f.logout, f.sendErr
}

// Client is a scripted adapter.Client. Tests drive it with Emit.
type Client struct {
	TenantID    string
	Credentials []byte
	// Seq numbers clients per tenant starting at 1.
	Seq int

	factory *Factory
	events  chan adapter.Event

	mu     sync.Mutex
	closed bool
	info   *adapter.AccountInfo
	sent   []Sent
	revoke bool

	connects atomic.Int32
	logouts  atomic.Int32
	releases atomic.Int32
}

func (c *Client) Connect(context.Context) error {
	c.connects.Add(1)
	connect, _, _ := c.factory.hooks()
	if connect != nil {
		return connect(c)
	}
	if len(c.Credentials) > 0 {
		c.Emit(adapter.Event{Kind: adapter.EventReady})
		return nil
	}
	c.Emit(adapter.Event{Kind: adapter.EventQR, QRCode: c.Code()})
	return nil
}

// Code is the authentication code this client issues by default.
func (c *Client) Code() string {
	return fmt.Sprintf("code-%s-%d", c.TenantID, c.Seq)
}

func (c *Client) Events() <-chan adapter.Event {
	return c.events
}

// Emit queues ev for the session watcher. It reports false once released.
func (c *Client) Emit(ev adapter.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) Send(_ context.Context, destination, body string) (adapter.SendResult, error) {
	_, _, sendErr := c.factory.hooks()
	if sendErr != nil {
		return adapter.SendResult{}, sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return adapter.SendResult{}, adapter.ErrClosed
	}
	c.sent = append(c.sent, Sent{Destination: destination, Body: body})
	return adapter.SendResult{MessageID: fmt.Sprintf("msg-%d", len(c.sent))}, nil
}

func (c *Client) Logout(ctx context.Context, revoke bool) error {
	c.logouts.Add(1)
	c.mu.Lock()
	c.revoke = c.revoke || revoke
	c.mu.Unlock()

	_, logout, _ := c.factory.hooks()
	if logout != nil {
		return logout(ctx, c)
	}
	return nil
}

func (c *Client) ForceRelease() error {
	c.releases.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *Client) Info() (adapter.AccountInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return adapter.AccountInfo{}, false
	}
	return *c.info, true
}

func (c *Client) SetInfo(info adapter.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = &info
}

func (c *Client) ProfilePictureURL(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", adapter.ErrClosed
	}
	if c.info == nil {
		return "", errors.New("account info not loaded")
	}
	return "https://pictures.example.test/" + c.TenantID + ".jpg", nil
}

func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Client) Revoked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revoke
}

func (c *Client) Connects() int {
	return int(c.connects.Load())
}

func (c *Client) Logouts() int {
	return int(c.logouts.Load())
}

func (c *Client) Releases() int {
	return int(c.releases.Load())
}
