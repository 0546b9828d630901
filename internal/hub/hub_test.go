package hub

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connTracker records lifecycle events via the hub callbacks.
type connTracker struct {
	mu        sync.Mutex
	connected []string
	gone      []string
	messages  map[string][]string
}

func newConnTracker() *connTracker {
	return &connTracker{messages: make(map[string][]string)}
}

func (ct *connTracker) callbacks() Callbacks {
	return Callbacks{
		OnConnect: func(connID string) {
			ct.mu.Lock()
			defer ct.mu.Unlock()
			ct.connected = append(ct.connected, connID)
		},
		OnMessage: func(connID string, data []byte) {
			ct.mu.Lock()
			defer ct.mu.Unlock()
			ct.messages[connID] = append(ct.messages[connID], string(data))
		},
		OnDisconnect: func(connID string) {
			ct.mu.Lock()
			defer ct.mu.Unlock()
			ct.gone = append(ct.gone, connID)
		},
	}
}

func (ct *connTracker) connectedIDs() []string {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	cp := make([]string, len(ct.connected))
	copy(cp, ct.connected)
	return cp
}

// testHub serves h over an httptest server and returns the ws URL.
func testHub(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialClient(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *ws.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// connect dials one client and returns its connection and hub conn id.
func connect(t *testing.T, ct *connTracker, url string) (*ws.Conn, string) {
	t.Helper()
	before := len(ct.connectedIDs())
	conn := dialClient(t, url)
	waitFor(t, func() bool { return len(ct.connectedIDs()) > before }, "connection not observed")
	ids := ct.connectedIDs()
	return conn, ids[len(ids)-1]
}

func TestPublishReachesSubscribers(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	conn, connID := connect(t, ct, url)
	h.Subscribe(connID, "global")

	sent := h.Publish("global", []byte(`{"type":"server_announcement"}`))
	assert.Equal(t, 1, sent)
	assert.Contains(t, readText(t, conn), "server_announcement")
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	_, connID := connect(t, ct, url)
	h.Subscribe(connID, "user:1")

	assert.Equal(t, 0, h.Publish("user:2", []byte("x")))
	assert.Equal(t, 1, h.Publish("user:1", []byte("y")))
}

func TestPublishWithNoSubscribers(t *testing.T) {
	h := New(testLogger(), Callbacks{})
	defer h.Close()

	assert.Equal(t, 0, h.Publish("global", []byte("nobody home")))
}

func TestSendToConnection(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	conn, connID := connect(t, ct, url)

	assert.True(t, h.Send(connID, []byte("direct")))
	assert.Equal(t, "direct", readText(t, conn))

	assert.False(t, h.Send("conn-999", []byte("ghost")))
}

func TestInboundMessagesReachCallback(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	conn, connID := connect(t, ct, url)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"type":"auth"}`)))

	waitFor(t, func() bool {
		ct.mu.Lock()
		defer ct.mu.Unlock()
		return len(ct.messages[connID]) == 1
	}, "inbound message not delivered")

	ct.mu.Lock()
	defer ct.mu.Unlock()
	assert.Equal(t, `{"type":"auth"}`, ct.messages[connID][0])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	_, connID := connect(t, ct, url)
	h.Subscribe(connID, "global")
	require.Equal(t, 1, h.TopicCount("global"))

	h.Unsubscribe(connID, "global")
	assert.Equal(t, 0, h.TopicCount("global"))
	assert.Equal(t, 0, h.Publish("global", []byte("x")))
}

func TestDisconnectCleansUpSubscriptions(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	_, connID := connect(t, ct, url)
	h.Subscribe(connID, "global")

	h.Disconnect(connID)

	waitFor(t, func() bool { return h.Count() == 0 }, "client not removed")
	assert.Equal(t, 0, h.TopicCount("global"))

	ct.mu.Lock()
	defer ct.mu.Unlock()
	assert.Equal(t, []string{connID}, ct.gone)
}

func TestClientCloseRemovesFromHub(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	conn, _ := connect(t, ct, url)
	require.Equal(t, 1, h.Count())

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return h.Count() == 0 }, "client not removed after close")
}

func TestConnIDsAreUnique(t *testing.T) {
	ct := newConnTracker()
	h := New(testLogger(), ct.callbacks())
	url := testHub(t, h)

	_, id1 := connect(t, ct, url)
	_, id2 := connect(t, ct, url)

	assert.NotEqual(t, id1, id2)
}
