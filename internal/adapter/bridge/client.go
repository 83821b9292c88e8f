package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/adapter"
	"sessiongate.local/gateway/internal/ids"
)

const (
	ioTimeout       = 10 * time.Second
	eventBufferSize = 32
)

// Factory dials one bridge socket per tenant under BaseURL.
type Factory struct {
	BaseURL string
	Logger  zerolog.Logger
	Dialer  *websocket.Dialer
}

func NewFactory(baseURL string, logger zerolog.Logger) *Factory {
	return &Factory{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Logger:  logger,
		Dialer:  &websocket.Dialer{HandshakeTimeout: ioTimeout},
	}
}

func (f *Factory) New(tenantID string, credentials []byte) (adapter.Client, error) {
	if f.BaseURL == "" {
		return nil, fmt.Errorf("bridge base url is required")
	}
	endpoint, err := url.JoinPath(f.BaseURL, tenantID)
	if err != nil {
		return nil, fmt.Errorf("build bridge url: %w", err)
	}
	dialer := f.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: ioTimeout}
	}
	return &Client{
		tenantID:    tenantID,
		endpoint:    endpoint,
		credentials: append([]byte(nil), credentials...),
		dialer:      dialer,
		logger:      f.Logger.With().Str("component", "bridge").Str("tenant_id", tenantID).Logger(),
		pending:     make(map[string]chan Frame),
		events:      make(chan adapter.Event, eventBufferSize),
		done:        make(chan struct{}),
	}, nil
}

type Client struct {
	tenantID    string
	endpoint    string
	credentials []byte
	dialer      *websocket.Dialer
	logger      zerolog.Logger

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	info    *adapter.AccountInfo
	pending map[string]chan Frame

	events    chan adapter.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return adapter.ErrClosed
	}
	if c.conn != nil {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial bridge websocket: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return adapter.ErrClosed
	}
	c.conn = conn
	c.started = true
	c.mu.Unlock()
	go c.readLoop(conn)

	hello := Frame{
		Type:        FrameConnect,
		RequestID:   ids.New(),
		TenantID:    c.tenantID,
		Credentials: encodeCredentials(c.credentials),
	}
	if err := c.write(ctx, hello); err != nil {
		return fmt.Errorf("send connect frame: %w", err)
	}
	return nil
}

func (c *Client) Events() <-chan adapter.Event {
	return c.events
}

func (c *Client) Send(ctx context.Context, destination, body string) (adapter.SendResult, error) {
	res, err := c.request(ctx, Frame{Type: FrameSend, Destination: destination, Body: body})
	if err != nil {
		return adapter.SendResult{}, err
	}
	return adapter.SendResult{MessageID: res.MessageID}, nil
}

func (c *Client) Logout(ctx context.Context, revoke bool) error {
	_, err := c.request(ctx, Frame{Type: FrameLogout, Revoke: revoke})
	return err
}

func (c *Client) ProfilePictureURL(ctx context.Context) (string, error) {
	res, err := c.request(ctx, Frame{Type: FrameProfilePicture})
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

func (c *Client) Info() (adapter.AccountInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.info == nil {
		return adapter.AccountInfo{}, false
	}
	return *c.info, true
}

// ForceRelease closes the socket without waiting for the bridge. Safe to call repeatedly.
func (c *Client) ForceRelease() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		started := c.started
		pending := c.pending
		c.pending = make(map[string]chan Frame)
		c.mu.Unlock()

		close(c.done)
		for _, ch := range pending {
			close(ch)
		}
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
			_ = conn.Close()
		}
		if !started {
			close(c.events)
		}
	})
	return nil
}

func (c *Client) request(ctx context.Context, frame Frame) (Frame, error) {
	frame.RequestID = ids.New()
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, adapter.ErrClosed
	}
	c.pending[frame.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, frame); err != nil {
		return Frame{}, fmt.Errorf("send %s frame: %w", frame.Type, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return Frame{}, adapter.ErrClosed
		}
		if !res.OK {
			reason := strings.TrimSpace(res.Error)
			if reason == "" {
				reason = "unspecified bridge error"
			}
			return Frame{}, fmt.Errorf("bridge %s failed: %s", frame.Type, reason)
		}
		return res, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, adapter.ErrClosed
	}
}

func (c *Client) write(ctx context.Context, frame Frame) error {
	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()
	if conn == nil || closed {
		return adapter.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.events)
	defer c.ForceRelease()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			reason := "bridge connection lost"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("bridge read failed")
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Text != "" {
				reason = closeErr.Text
			}
			c.emit(adapter.Event{Kind: adapter.EventDisconnected, Reason: reason})
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("decode bridge frame")
			continue
		}

		if frame.Type == FrameResult {
			c.resolve(frame)
			continue
		}
		if frame.Type == FrameReady && frame.Info != nil {
			info := *frame.Info
			c.mu.Lock()
			c.info = &info
			c.mu.Unlock()
		}

		event, ok, err := toEvent(frame)
		if err != nil {
			c.logger.Warn().Err(err).Str("frame_type", string(frame.Type)).Msg("invalid bridge frame")
			continue
		}
		if !ok {
			c.logger.Debug().Str("frame_type", string(frame.Type)).Msg("ignoring unknown bridge frame")
			continue
		}
		if !c.emit(event) {
			return
		}
		if event.Kind == adapter.EventDisconnected {
			return
		}
	}
}

func (c *Client) resolve(frame Frame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.RequestID]
	if ok {
		delete(c.pending, frame.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("request_id", frame.RequestID).Msg("result for unknown request")
		return
	}
	ch <- frame
}

func (c *Client) emit(event adapter.Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
