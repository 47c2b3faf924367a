package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/progress"
	"github.com/miniclick/calltrack/internal/tracker/reconcile"
	"github.com/miniclick/calltrack/internal/tracker/schema"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

func insertCall(t *testing.T, store *db.DB, id string, date int64) {
	t.Helper()
	c := &schema.CallRecord{
		CompositeID: schema.CompositeID(schema.CallIncoming, "dev", "111", date),
		SystemID:    id,
		PhoneNumber: "111",
		CallType:    schema.CallIncoming,
		CallDate:    date,
		Duration:    10,
		DeviceID:    "dev",
	}
	if _, err := store.InsertCalls(context.Background(), []*schema.CallRecord{c}); err != nil {
		t.Fatalf("InsertCalls() failed: %v", err)
	}
}

func startServer(t *testing.T, store *db.DB) *Server {
	t.Helper()
	s := NewServer(Config{
		Addr:    "127.0.0.1:0",
		Status:  store,
		Pending: ReconcilerPending{R: reconcile.New(store, zerolog.Nop())},
		Logger:  zerolog.Nop(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

// readMessage reads messages until one of type typ arrives.
func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() waiting for %s failed: %v", typ, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, s.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_StatsAndChanges(t *testing.T) {
	store := setupTestDB(t)
	insertCall(t, store, "1", 1000)
	s := startServer(t, store)

	h := NewHandler(s, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go h.Run(ctx)
	unsubscribe := store.Subscribe(h.OnChange)
	defer unsubscribe()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	welcome := readMessage(t, ctx, conn, MessageTypeStats)
	var stats StatsData
	if err := json.Unmarshal(welcome.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Calls != 1 || stats.Recording[string(schema.RecordingPending)] != 1 {
		t.Errorf("unexpected initial stats: %+v", stats)
	}
	waitForClients(t, s, 1)

	insertCall(t, store, "2", 2000)

	msg := readMessage(t, ctx, conn, MessageTypeChange)
	var change db.Change
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		t.Fatalf("Failed to unmarshal change: %v", err)
	}
	if change.Table != db.TableCalls || change.Op != db.OpInsert {
		t.Errorf("unexpected change: %+v", change)
	}

	msg = readMessage(t, ctx, conn, MessageTypeStats)
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Calls != 2 {
		t.Errorf("refreshed stats calls = %d, want 2", stats.Calls)
	}
}

func TestHandler_Progress(t *testing.T) {
	store := setupTestDB(t)
	s := startServer(t, store)
	h := NewHandler(s, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+s.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	readMessage(t, ctx, conn, MessageTypeStats)
	waitForClients(t, s, 1)

	var r progress.Reporter = h
	r.Start("match_recordings", 100)
	for i := 1; i <= 50; i++ {
		r.Update(i, 100, "") // throttled
	}
	r.End(progress.StatusCompleted, "done")

	var kinds []string
	for len(kinds) == 0 || kinds[len(kinds)-1] != "end" {
		msg := readMessage(t, ctx, conn, MessageTypeProgress)
		var ev progress.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		if ev.Operation != "match_recordings" {
			t.Errorf("operation = %q", ev.Operation)
		}
		kinds = append(kinds, ev.Kind)
	}
	if kinds[0] != "start" || len(kinds) > 4 {
		t.Errorf("expected start, a few throttled updates, end; got %v", kinds)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	store := setupTestDB(t)
	insertCall(t, store, "1", 1000)
	s := NewServer(Config{
		Status:  store,
		Pending: ReconcilerPending{R: reconcile.New(store, zerolog.Nop())},
		Logger:  zerolog.Nop(),
	})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	if code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("/health = %d %s", code, body)
	}

	code, body = get("/api/pending")
	if code != http.StatusOK {
		t.Fatalf("/api/pending = %d %s", code, body)
	}
	var pending PendingData
	if err := json.Unmarshal([]byte(body), &pending); err != nil {
		t.Fatalf("Failed to unmarshal pending: %v", err)
	}
	if diff := cmp.Diff(PendingData{NewCalls: 1, RecordingCalls: 1}, pending); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}

	code, body = get("/api/status")
	if code != http.StatusOK || !strings.Contains(body, `"calls":1`) {
		t.Errorf("/api/status = %d %s", code, body)
	}

	code, body = get("/metrics")
	if code != http.StatusOK || !strings.Contains(body, "calltrack_sync_in_flight") {
		t.Errorf("/metrics missing sync metrics: %d", code)
	}

	if code, _ := get("/nope"); code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", code)
	}
}
