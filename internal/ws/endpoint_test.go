package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-lab/backend/internal/metrics"
	"github.com/character-lab/backend/internal/progress"
)

// staticTokens maps tokens to the user they were issued for.
type staticTokens map[string]string

func (s staticTokens) ValidateToken(token string) (string, error) {
	if user, ok := s[token]; ok {
		return user, nil
	}
	return "", errors.New("invalid token")
}

// storeLookup serves task state straight from a progress store.
type storeLookup struct {
	store *progress.Store
}

func (l storeLookup) LookupTask(_ context.Context, taskID string) (progress.Record, error) {
	rec, ok := l.store.Get(taskID)
	if !ok {
		return progress.Record{}, ErrTaskNotFound
	}
	return rec, nil
}

type testServer struct {
	url      string
	endpoint *Endpoint
	registry *Registry
	tracker  *progress.Tracker
}

// panickingLookup fails every lookup with a panic.
type panickingLookup struct{}

func (panickingLookup) LookupTask(context.Context, string) (progress.Record, error) {
	panic("lookup exploded")
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithLookup(t, nil)
}

// newTestServerWithLookup serves task state from tasks, or from the tracker's
// store when tasks is nil.
func newTestServerWithLookup(t *testing.T, tasks TaskLookup) *testServer {
	t.Helper()

	registry := NewRegistry()
	store := progress.NewStore()
	tracker := progress.NewTracker(store, registry)
	if tasks == nil {
		tasks = storeLookup{store: store}
	}
	endpoint := NewEndpoint(registry, staticTokens{"tok-u1": "u1", "tok-u2": "u2"}, tasks, Options{
		PollInterval: 20 * time.Millisecond,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		_ = endpoint.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		_ = endpoint.ServeTaskStatus(w, r, strings.TrimPrefix(r.URL.Path, "/tasks/"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		registry.Close()
		srv.Close()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		endpoint: endpoint,
		registry: registry,
		tracker:  tracker,
	}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials the general endpoint and consumes the acknowledgement, after
// which the connection is registered.
func (s *testServer) connect(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn := s.dial(t, path)
	msg := readJSON(t, conn)
	require.Equal(t, "connection_established", msg["type"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func expectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr
	}
}

func TestEndpointAcknowledgesConnection(t *testing.T) {
	s := newTestServer(t)
	s.connect(t, "/ws/u1?token=tok-u1&type=task-progress")

	assert.True(t, s.registry.IsConnected("u1"))
	assert.Equal(t, 1, s.registry.TypeConnectionCount(ConnectionTypeTaskProgress))
}

func TestEndpointAcceptsMissingToken(t *testing.T) {
	s := newTestServer(t)
	s.connect(t, "/ws/u1")

	assert.Equal(t, 1, s.registry.TypeConnectionCount(ConnectionTypeGeneral))
}

func TestEndpointUnknownTypeFallsBackToGeneral(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 5; i++ {
		s.connect(t, fmt.Sprintf("/ws/u1?type=junk-%d", i))
	}

	assert.Equal(t, 5, s.registry.TypeConnectionCount(ConnectionTypeGeneral))
	assert.Equal(t, 0, s.registry.TypeConnectionCount("junk-0"))
	// One series per known type at most.
	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.WSConnectionsTotal), 2)
	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.WSConnectionsActive), 2)
}

func TestEndpointRejectsMismatchedToken(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/ws/u1?token=tok-u2")

	closeErr := expectClose(t, conn)
	assert.Equal(t, CloseAuthFailed, closeErr.Code)
	assert.False(t, s.registry.IsConnected("u1"))
	assert.False(t, s.registry.IsConnected("u2"))
}

func TestEndpointRejectsInvalidToken(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/ws/u1?token=garbage")

	closeErr := expectClose(t, conn)
	assert.Equal(t, CloseAuthFailed, closeErr.Code)
	assert.Equal(t, 0, s.registry.ConnectionCount())
}

func TestEndpointPingPong(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1?token=tok-u1")

	writeJSON(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", readJSON(t, conn)["type"])

	// A second frame proves exactly one reply was queued for the ping.
	writeJSON(t, conn, map[string]any{"type": "hello", "message": "after"})
	echo := readJSON(t, conn)
	assert.Equal(t, "echo", echo["type"])
	assert.Equal(t, "after", echo["message"])
}

func TestEndpointEchoDefault(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1")

	writeJSON(t, conn, map[string]any{"type": "whatever"})
	echo := readJSON(t, conn)
	assert.Equal(t, "echo", echo["type"])
	assert.Equal(t, "message received", echo["message"])
}

func TestEndpointSurvivesMalformedFrame(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	writeJSON(t, conn, map[string]any{"type": "ping"})

	assert.Equal(t, "pong", readJSON(t, conn)["type"])
	assert.True(t, s.registry.IsConnected("u1"))
}

func TestEndpointProgressScenario(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1?token=tok-u1")

	writeJSON(t, conn, map[string]any{"type": "subscribe_task", "task_id": "t1"})
	require.NoError(t, s.tracker.Update("t1", "u1", 40, progress.StatusProcessing, "rendering"))
	s.tracker.Complete("t1", "u1", map[string]any{"url": "x"})

	update := readJSON(t, conn)
	assert.Equal(t, "task_progress_update", update["type"])
	assert.Equal(t, "t1", update["task_id"])
	assert.EqualValues(t, 40, update["progress"])
	assert.Equal(t, "processing", update["status"])

	done := readJSON(t, conn)
	assert.Equal(t, "task_completed", done["type"])
	assert.Equal(t, map[string]any{"url": "x"}, done["result"])

	rec, ok := s.tracker.Store().Get("t1")
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
}

func TestEndpointGetTaskStatus(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1?token=tok-u1")

	require.NoError(t, s.tracker.Update("t1", "u1", 10, progress.StatusProcessing, ""))
	readJSON(t, conn) // progress update

	writeJSON(t, conn, map[string]any{"type": "get_task_status", "task_id": "t1"})
	status := readJSON(t, conn)
	assert.Equal(t, "task_status", status["type"])
	assert.EqualValues(t, 10, status["progress"])

	writeJSON(t, conn, map[string]any{"type": "get_task_status", "task_id": "missing"})
	assert.Equal(t, "error", readJSON(t, conn)["type"])
}

func TestEndpointGetTaskStatusHidesOtherUsers(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.tracker.Update("t2", "u2", 10, progress.StatusProcessing, ""))

	conn := s.connect(t, "/ws/u1?token=tok-u1")
	writeJSON(t, conn, map[string]any{"type": "get_task_status", "task_id": "t2"})

	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "task not found", msg["message"])
}

func TestEndpointInternalErrorClosesWith4000(t *testing.T) {
	s := newTestServerWithLookup(t, panickingLookup{})
	conn := s.connect(t, "/ws/u1?token=tok-u1")

	writeJSON(t, conn, map[string]any{"type": "get_task_status", "task_id": "t1"})

	closeErr := expectClose(t, conn)
	assert.Equal(t, CloseInternalError, closeErr.Code)
	assert.Equal(t, "internal error", closeErr.Text)
	require.Eventually(t, func() bool {
		return !s.registry.IsConnected("u1")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.registry.ConnectionCount())
}

// serverConnection returns the registered connection of a user with a single tab.
func (s *testServer) serverConnection(t *testing.T, userID string) *Connection {
	t.Helper()
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	conns := snapshot(s.registry.byUser[userID])
	require.Len(t, conns, 1)
	return conns[0]
}

// roundTrip sends a ping and waits for its pong, so every earlier frame has
// been dispatched.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"type": "ping"})
	require.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestEndpointSubscribeAndUnsubscribe(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1?token=tok-u1")

	writeJSON(t, conn, map[string]any{"type": "subscribe_task", "task_id": "t1"})
	writeJSON(t, conn, map[string]any{"type": "subscribe_task", "task_id": "t2"})
	roundTrip(t, conn)

	server := s.serverConnection(t, "u1")
	assert.True(t, server.IsSubscribed("t1"))
	assert.True(t, server.IsSubscribed("t2"))

	writeJSON(t, conn, map[string]any{"type": "unsubscribe_task", "task_id": "t1"})
	roundTrip(t, conn)

	assert.False(t, server.IsSubscribed("t1"))
	assert.True(t, server.IsSubscribed("t2"))
}

func TestEndpointDeliveryIgnoresSubscriptions(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1?token=tok-u1")

	writeJSON(t, conn, map[string]any{"type": "subscribe_task", "task_id": "t1"})
	writeJSON(t, conn, map[string]any{"type": "unsubscribe_task", "task_id": "t1"})
	roundTrip(t, conn)
	require.False(t, s.serverConnection(t, "u1").IsSubscribed("t1"))

	require.NoError(t, s.tracker.Update("t1", "u1", 25, progress.StatusProcessing, "rendering"))
	update := readJSON(t, conn)
	assert.Equal(t, "task_progress_update", update["type"])
	assert.Equal(t, "t1", update["task_id"])

	// Never subscribed at all.
	require.NoError(t, s.tracker.Update("t9", "u1", 5, progress.StatusPending, ""))
	assert.Equal(t, "t9", readJSON(t, conn)["task_id"])
}

func TestEndpointDisconnectRemovesConnection(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool {
		return !s.registry.IsConnected("u1")
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.registry.SendToUser("u1", map[string]any{"type": "late"}))
}

func TestEndpointMultipleTabs(t *testing.T) {
	s := newTestServer(t)
	tab1 := s.connect(t, "/ws/u1")
	tab2 := s.connect(t, "/ws/u1?type=task-progress")

	require.NoError(t, s.tracker.Update("t1", "u1", 5, progress.StatusPending, ""))
	assert.Equal(t, "task_progress_update", readJSON(t, tab1)["type"])
	assert.Equal(t, "task_progress_update", readJSON(t, tab2)["type"])
	assert.Equal(t, 2, s.registry.UserConnectionCount("u1"))
}

func TestEndpointShutdownClosesConnections(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1")

	s.registry.BroadcastAll(NewServerShutdown(time.Now()))
	s.registry.Close()

	assert.Equal(t, "server_shutdown", readJSON(t, conn)["type"])
	closeErr := expectClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestEndpointUpdatesArriveInOrder(t *testing.T) {
	s := newTestServer(t)
	conn := s.connect(t, "/ws/u1")

	for p := 0; p <= 90; p += 10 {
		require.NoError(t, s.tracker.Update("t1", "u1", p, progress.StatusProcessing, ""))
	}

	last := -1.0
	for i := 0; i < 10; i++ {
		msg := readJSON(t, conn)
		p, ok := msg["progress"].(float64)
		require.True(t, ok)
		assert.Greater(t, p, last)
		last = p
	}
}

func TestTaskStatusPollerStreamsUntilTerminal(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.tracker.Update("t1", "u1", 30, progress.StatusProcessing, ""))

	conn := s.dial(t, "/tasks/t1?token=tok-u1")
	first := readJSON(t, conn)
	assert.Equal(t, "task_status", first["type"])
	assert.EqualValues(t, 30, first["progress"])

	s.tracker.Complete("t1", "u1", map[string]any{"video_id": "v1"})

	for {
		msg := readJSON(t, conn)
		if msg["status"] == "completed" {
			assert.EqualValues(t, 100, msg["progress"])
			break
		}
	}
	closeErr := expectClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestTaskStatusPollerUnknownTask(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "/tasks/nope?token=tok-u1")

	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "task not found", msg["message"])
	assert.Equal(t, websocket.CloseNormalClosure, expectClose(t, conn).Code)
}

func TestTaskStatusPollerRequiresOwner(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.tracker.Update("t1", "u1", 30, progress.StatusProcessing, ""))

	conn := s.dial(t, "/tasks/t1?token=tok-u2")
	assert.Equal(t, "error", readJSON(t, conn)["type"])

	noToken := s.dial(t, "/tasks/t1")
	assert.Equal(t, CloseAuthFailed, expectClose(t, noToken).Code)
}
