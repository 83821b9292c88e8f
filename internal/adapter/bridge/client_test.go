package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sessiongate.local/gateway/internal/adapter"
)

type fakeBridge struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	paths  chan string
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{
		conns: make(chan *websocket.Conn, 1),
		paths: make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade websocket: %v", err)
			return
		}
		fb.paths <- r.URL.Path
		fb.conns <- conn
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBridge) baseURL() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http") + "/v1/clients"
}

func (fb *fakeBridge) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fb.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge never received a connection")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.WriteJSON(frame))
}

func nextEvent(t *testing.T, client adapter.Client) adapter.Event {
	t.Helper()
	select {
	case ev, ok := <-client.Events():
		require.True(t, ok, "events channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for adapter event")
		return adapter.Event{}
	}
}

func connectedClient(t *testing.T, credentials []byte) (adapter.Client, *websocket.Conn) {
	t.Helper()
	fb := newFakeBridge(t)
	client, err := NewFactory(fb.baseURL(), zerolog.Nop()).New("tenant-1", credentials)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.ForceRelease() })

	require.NoError(t, client.Connect(context.Background()))
	conn := fb.accept(t)
	require.Equal(t, "/v1/clients/tenant-1", <-fb.paths)
	return client, conn
}

func TestClientLifecycleEvents(t *testing.T) {
	client, conn := connectedClient(t, []byte("stored-creds"))

	hello := readFrame(t, conn)
	require.Equal(t, FrameConnect, hello.Type)
	require.Equal(t, "tenant-1", hello.TenantID)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("stored-creds")), hello.Credentials)

	_, ok := client.Info()
	require.False(t, ok)

	writeFrame(t, conn, Frame{Type: FrameQR, QR: "2@abc"})
	writeFrame(t, conn, Frame{Type: FrameAuthenticated})
	writeFrame(t, conn, Frame{Type: "unknown_future_frame"})
	writeFrame(t, conn, Frame{Type: FrameCredentials, Credentials: base64.StdEncoding.EncodeToString([]byte("fresh"))})
	writeFrame(t, conn, Frame{Type: FrameReady, Info: &adapter.AccountInfo{ID: "acct", Name: "Shop", Phone: "15550001111"}})
	writeFrame(t, conn, Frame{Type: FrameMessage, Message: &adapter.InboundMessage{ID: "m1", From: "15550002222", Body: "hello"}})

	ev := nextEvent(t, client)
	require.Equal(t, adapter.EventQR, ev.Kind)
	require.Equal(t, "2@abc", ev.QRCode)

	require.Equal(t, adapter.EventAuthenticated, nextEvent(t, client).Kind)

	ev = nextEvent(t, client)
	require.Equal(t, adapter.EventCredentials, ev.Kind)
	require.Equal(t, []byte("fresh"), ev.Credentials)

	ev = nextEvent(t, client)
	require.Equal(t, adapter.EventReady, ev.Kind)
	info, ok := client.Info()
	require.True(t, ok)
	require.Equal(t, "Shop", info.Name)

	ev = nextEvent(t, client)
	require.Equal(t, adapter.EventMessage, ev.Kind)
	require.Equal(t, "hello", ev.Message.Body)
}

func TestClientRequestsCorrelateResults(t *testing.T) {
	client, conn := connectedClient(t, nil)
	hello := readFrame(t, conn)
	require.Empty(t, hello.Credentials)

	go func() {
		send := readFrame(t, conn)
		writeFrame(t, conn, Frame{Type: FrameResult, RequestID: "someone-else", OK: true})
		writeFrame(t, conn, Frame{Type: FrameResult, RequestID: send.RequestID, OK: send.Destination == "15550001111", MessageID: "msg-1"})

		pic := readFrame(t, conn)
		writeFrame(t, conn, Frame{Type: FrameResult, RequestID: pic.RequestID, OK: true, URL: "https://cdn.example/pic.jpg"})

		logout := readFrame(t, conn)
		writeFrame(t, conn, Frame{Type: FrameResult, RequestID: logout.RequestID, OK: false, Error: "already signed out"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := client.Send(ctx, "15550001111", "hi")
	require.NoError(t, err)
	require.Equal(t, "msg-1", res.MessageID)

	url, err := client.ProfilePictureURL(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/pic.jpg", url)

	err = client.Logout(ctx, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already signed out")
}

func TestClientRequestHonoursContext(t *testing.T) {
	client, conn := connectedClient(t, nil)
	readFrame(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Send(ctx, "15550001111", "hi")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClientForceReleaseClosesEvents(t *testing.T) {
	client, conn := connectedClient(t, nil)
	readFrame(t, conn)

	require.NoError(t, client.ForceRelease())
	require.NoError(t, client.ForceRelease())

	select {
	case _, ok := <-client.Events():
		for ok {
			_, ok = <-client.Events()
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel was not closed")
	}

	_, err := client.Send(context.Background(), "15550001111", "hi")
	require.True(t, errors.Is(err, adapter.ErrClosed))
	require.True(t, errors.Is(client.Connect(context.Background()), adapter.ErrClosed))
}

func TestClientReportsRemoteClose(t *testing.T) {
	client, conn := connectedClient(t, nil)
	readFrame(t, conn)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge restarting"), time.Now().Add(time.Second)))
	_ = conn.Close()

	ev := nextEvent(t, client)
	require.Equal(t, adapter.EventDisconnected, ev.Kind)
	require.Equal(t, "bridge restarting", ev.Reason)
}

func TestForceReleaseBeforeConnectClosesEvents(t *testing.T) {
	client, err := NewFactory("ws://127.0.0.1:1/v1/clients", zerolog.Nop()).New("tenant-1", nil)
	require.NoError(t, err)
	require.NoError(t, client.ForceRelease())

	_, ok := <-client.Events()
	require.False(t, ok)
}
