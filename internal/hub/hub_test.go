package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newTestServer(t *testing.T, h *Hub, replay func(*Client)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		room := r.URL.Query().Get("room")
		h.Serve(conn, room, replay)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func waitForClients(t *testing.T, h *Hub, room string, n int) {
	require.Eventually(t, func() bool { return h.Count(room) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastReachesRoom(t *testing.T) {
	h := New(logr.Discard())
	srv := newTestServer(t, h, nil)

	conn := dial(t, srv, "task_1")
	waitForClients(t, h, "task_1", 1)

	h.Broadcast("task_1", NewTaskOutput(1, 10, "hi", "stdout"))

	msg := readEvent(t, conn)
	assert.Equal(t, "task_output", msg["type"])
	assert.Equal(t, "hi", msg["output_line"])
	assert.Equal(t, "stdout", msg["output_type"])
}

func TestHub_BroadcastScopedToRoom(t *testing.T) {
	h := New(logr.Discard())
	srv := newTestServer(t, h, nil)

	taskConn := dial(t, srv, "task_1")
	globalConn := dial(t, srv, GlobalRoom)
	waitForClients(t, h, "task_1", 1)
	waitForClients(t, h, GlobalRoom, 1)

	h.Broadcast(GlobalRoom, NewTaskStart(1, "hello", 10))

	msg := readEvent(t, globalConn)
	assert.Equal(t, "task_start", msg["type"])

	// The task room client sees nothing
	require.NoError(t, taskConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := taskConn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_PingAnsweredWithPong(t *testing.T) {
	h := New(logr.Discard())
	srv := newTestServer(t, h, nil)

	conn := dial(t, srv, GlobalRoom)
	waitForClients(t, h, GlobalRoom, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	msg := readEvent(t, conn)
	assert.Equal(t, "pong", msg["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	msg = readEvent(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestHub_ReplayDeliveredOnJoin(t *testing.T) {
	h := New(logr.Discard())
	replay := func(c *Client) {
		c.Send(NewTaskOutput(1, 10, "line 1", "stdout"))
		c.Send(NewTaskOutput(1, 10, "line 2", "stdout"))
		c.Send(NewTaskOutput(1, 10, "boom", "stderr"))
	}
	srv := newTestServer(t, h, replay)

	conn := dial(t, srv, "task_1")

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	third := readEvent(t, conn)
	assert.Equal(t, "line 1", first["output_line"])
	assert.Equal(t, "line 2", second["output_line"])
	assert.Equal(t, "boom", third["output_line"])
	assert.Equal(t, "stderr", third["output_type"])
}

func TestHub_CountTracksDisconnects(t *testing.T) {
	h := New(logr.Discard())
	srv := newTestServer(t, h, nil)

	conn1 := dial(t, srv, "task_9")
	dial(t, srv, "task_9")
	waitForClients(t, h, "task_9", 2)
	assert.Equal(t, 2, h.Count(""))

	require.NoError(t, conn1.Close())
	waitForClients(t, h, "task_9", 1)
}

func TestTaskRoom(t *testing.T) {
	assert.Equal(t, "task_42", TaskRoom(42))
}
