package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andival-Sei/pennora/backend/internal/db"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/mutation"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
	syncpkg "github.com/Andival-Sei/pennora/backend/internal/sync"
	"github.com/Andival-Sei/pennora/backend/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeRemote struct {
	mu    gosync.Mutex
	err   error
	calls int
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRemote) do() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeRemote) Insert(context.Context, models.Table, models.Payload) error { return f.do() }
func (f *fakeRemote) Update(context.Context, models.Table, string, models.Payload) error {
	return f.do()
}
func (f *fakeRemote) Delete(context.Context, models.Table, string) error { return f.do() }

type testEnv struct {
	srv    *httptest.Server
	server *Server
	hub    *Hub
	queue  *queue.Manager
	engine *syncpkg.Engine
	remote *fakeRemote
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	q := queue.NewManager(db.NewOperationStore(database))
	store := &fakeRemote{}
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	status := syncpkg.NewStatusStore()
	engine := syncpkg.NewEngine(q, store, status,
		syncpkg.WithInvalidator(hub.BroadcastCacheInvalidate),
		syncpkg.WithNoticeDuration(0))
	mutator := mutation.New(store, q, mutation.WithInvalidator(hub.BroadcastCacheInvalidate))

	server := NewServer(engine, q, mutator, status, hub, Config{})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, server: server, hub: hub, queue: q, engine: engine, remote: store}
}

func (e *testEnv) request(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads envelopes until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var env Envelope
		if json.Unmarshal(data, &env) == nil && env.Type == typ {
			return env
		}
	}
}

// =====================================================
// Health / Status Tests
// =====================================================

// TestHealth verifies the health endpoint.
func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.request(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

// TestSyncStatus verifies the status snapshot is served.
func TestSyncStatus(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.request(t, http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, status)

	var snap syncpkg.Status
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.True(t, snap.Online)
	assert.Equal(t, syncpkg.StateIdle, snap.State)
}

// =====================================================
// Record Tests
// =====================================================

// TestCreateRecord_online verifies a direct write answers 201.
func TestCreateRecord_online(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.request(t, http.MethodPost, "/api/records/transactions", `{"id":"tx-1","amount":10}`)
	require.Equal(t, http.StatusCreated, status)

	var out mutation.Outcome
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "tx-1", out.RecordID)
	assert.False(t, out.Queued)
	assert.Equal(t, 1, env.remote.count())
}

// TestRecords_offline verifies connectivity failures are queued and
// answered with 202.
func TestRecords_offline(t *testing.T) {
	env := newTestEnv(t)
	env.remote.setErr(remote.Offline(errors.New("no route to host")))

	status, body := env.request(t, http.MethodPatch, "/api/records/accounts/acc-1", `{"name":"Savings"}`)
	require.Equal(t, http.StatusAccepted, status)
	var out mutation.Outcome
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Queued)
	assert.NotEmpty(t, out.QueueID)

	status, _ = env.request(t, http.MethodDelete, "/api/records/accounts/acc-1", "")
	assert.Equal(t, http.StatusAccepted, status)

	ops, err := env.queue.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, out.QueueID, ops[0].ID)
}

// TestRecords_errors verifies error status mapping.
func TestRecords_errors(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.request(t, http.MethodPost, "/api/records/users", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "UNKNOWN_TABLE")

	status, _ = env.request(t, http.MethodPost, "/api/records/accounts", `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	env.remote.setErr(&remote.Error{Message: "duplicate key", Code: "23505", Status: 409})
	status, body = env.request(t, http.MethodPost, "/api/records/accounts", `{"name":"Cash"}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, string(body), "duplicate key")

	ops, err := env.queue.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// =====================================================
// Queue Tests
// =====================================================

// TestQueueEndpoints verifies listing, status, next and removal.
func TestQueueEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, body := env.request(t, http.MethodGet, "/api/queue/next", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"operation":null}`, string(body))

	first, err := env.queue.Enqueue(ctx, models.TableGoals, models.OperationCreate, nil, models.Payload(`{"target":100}`))
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, models.TableBudgets, models.OperationCreate, nil, nil)
	require.NoError(t, err)
	require.NoError(t, env.queue.MarkFailed(ctx, first, "rejected"))

	status, body = env.request(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Items []models.QueueOperation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, first, list.Items[0].ID)
	assert.JSONEq(t, `{"target":100}`, string(list.Items[0].Data))

	status, body = env.request(t, http.MethodGet, "/api/queue?table=budgets", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Items, 1)

	status, _ = env.request(t, http.MethodGet, "/api/queue?table=nope", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.request(t, http.MethodGet, "/api/queue/status", "")
	require.Equal(t, http.StatusOK, status)
	var qs models.QueueStatus
	require.NoError(t, json.Unmarshal(body, &qs))
	assert.Equal(t, 2, qs.Total)
	assert.Equal(t, 1, qs.Pending)
	assert.Equal(t, 1, qs.Failed)

	status, _ = env.request(t, http.MethodDelete, "/api/queue/not-an-id", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.request(t, http.MethodDelete, "/api/queue/"+first, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, body = env.request(t, http.MethodPost, "/api/queue/purge", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"purged":0}`, string(body))

	status, _ = env.request(t, http.MethodDelete, "/api/queue", "")
	assert.Equal(t, http.StatusNoContent, status)

	ops, err := env.queue.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// =====================================================
// Sync Tests
// =====================================================

// TestSyncEndpoints verifies manual full and per-table runs.
func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.queue.Enqueue(ctx, models.TableAccounts, models.OperationCreate, nil, models.Payload(`{"id":"a"}`))
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, models.TableGoals, models.OperationCreate, nil, models.Payload(`{"id":"g"}`))
	require.NoError(t, err)

	status, body := env.request(t, http.MethodPost, "/api/sync/accounts", "")
	require.Equal(t, http.StatusOK, status)
	var resp struct {
		Result models.SyncResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 1, resp.Result.Success)

	status, body = env.request(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 1, resp.Result.Success)
	assert.Equal(t, 1, resp.Result.Total)

	status, _ = env.request(t, http.MethodPost, "/api/sync/nope", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

// =====================================================
// WebSocket Tests
// =====================================================

// TestWebSocket_greetingAndInvalidate verifies a new client gets the
// current status and later cache invalidations.
func TestWebSocket_greetingAndInvalidate(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	greeting := readUntil(t, conn, EventStatus)
	require.Contains(t, greeting.Data, "status")

	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := env.queue.Enqueue(context.Background(), models.TableAccounts, models.OperationCreate, nil, models.Payload(`{"id":"a"}`))
	require.NoError(t, err)
	status, _ := env.request(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, status)

	readUntil(t, conn, EventCacheInvalidate)
}

// TestWebSocket_relay verifies engine events and status changes are
// pushed to clients.
func TestWebSocket_relay(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.Relay(ctx)

	conn := env.dial(t)
	readUntil(t, conn, EventStatus)
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := env.queue.Enqueue(context.Background(), models.TableGoals, models.OperationCreate, nil, models.Payload(`{"id":"g"}`))
	require.NoError(t, err)
	_, err = env.engine.SyncAll(context.Background())
	require.NoError(t, err)

	completed := readUntil(t, conn, EventSyncCompleted)
	result, ok := completed.Data["result"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, result["success"])
}

// TestWebSocket_subscribe verifies subscriptions filter broadcasts.
func TestWebSocket_subscribe(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	readUntil(t, conn, EventStatus)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{EventCacheInvalidate},
	}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe_ack", ack["action"])

	env.hub.BroadcastStatus(syncpkg.Status{State: syncpkg.StateSyncing})
	env.hub.BroadcastCacheInvalidate()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env1 Envelope
	require.NoError(t, conn.ReadJSON(&env1))
	assert.Equal(t, EventCacheInvalidate, env1.Type, "status update must be filtered out")
}

// TestOriginChecker verifies browser origins are restricted.
func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8090/ws", nil)
	assert.True(t, check(req), "non-browser clients send no Origin")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
