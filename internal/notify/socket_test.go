package notify

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSocketServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	srv := NewSocketServer(hub, zerolog.Nop())
	srv.writeWait = 100 * time.Millisecond
	srv.pingPeriod = 20 * time.Millisecond
	srv.pongWait = 100 * time.Millisecond
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return hub, ts
}

func dialSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestSilentPeerIsDisconnected(t *testing.T) {
	hub, ts := newTestSocketServer(t)

	ws := dialSocket(t, ts)
	// Swallow pings so the server never sees a pong.
	ws.SetPingHandler(func(string) error { return nil })
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "identify", "userId": 7, "role": "customer"}))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err, "server should close a peer that stops answering pings")

	assert.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 0
	}, 2*time.Second, 10*time.Millisecond, "dead connection should leave the hub")
}

func TestRespondingPeerStaysSubscribed(t *testing.T) {
	hub, ts := newTestSocketServer(t)

	ws := dialSocket(t, ts)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "identify", "userId": 7, "role": "customer"}))

	// Publish well after several ping cycles have elapsed. The default
	// ping handler replies with pongs while the client blocks in read, so
	// the subscription must survive until the event arrives.
	go func() {
		time.Sleep(300 * time.Millisecond)
		hub.Publish(UserChannel(7), "order-ready", map[string]any{"message": "Your order is ready"})
	}()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, "order-ready", ev.Event)
}
