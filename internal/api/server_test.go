package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orbitlabs/orbit/internal/config"
	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/decay"
	"github.com/orbitlabs/orbit/internal/engine"
	"github.com/orbitlabs/orbit/internal/learning"
	"github.com/orbitlabs/orbit/internal/memory"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/notifications"
	"github.com/orbitlabs/orbit/internal/storage"
)

var testNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type testStack struct {
	srv   *Server
	db    *storage.DB
	clock *core.FakeClock
}

// testServer wires a full server over an in-memory database
func testServer(t *testing.T) *testStack {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	clock := core.NewFakeClock(testNow)
	hub := NewWebSocketHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	state := notifications.NewMemoryState(clock, core.DefaultAttentionWindows())
	notifier := notifications.NewService(storage.NewProfileStore(db), state, hub, clock, notifications.DefaultGateConfig())

	svc := learning.NewService(db, clock, time.Hour)
	svc.SetNotifier(notifier)
	svc.Tracker().SetPublisher(hub)

	eng, err := engine.New(db, svc, decay.NewProcess(db, clock), clock, engine.ConfigFrom(config.Default()))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	srv := New(Config{
		LearningService:     svc,
		NotificationService: notifier,
		MemoryManager:       memory.NewManager(db, clock),
		Engine:              eng,
		Metrics:             metrics.New(metrics.DefaultConfig()),
		Hub:                 hub,
	})
	return &testStack{srv: srv, db: db, clock: clock}
}

// do sends a request through the router, acting as user when non-empty
func (ts *testStack) do(t *testing.T, method, path string, user core.UserID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, string(user))
	}
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	return w
}

// register creates a user through the API and returns its id
func (ts *testStack) register(t *testing.T, name string) core.UserID {
	t.Helper()
	w := ts.do(t, "POST", "/api/v1/users", "", map[string]string{"name": name})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", name, w.Code, w.Body.String())
	}
	var u core.User
	decodeBody(t, w, &u)
	return u.ID
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	ts := testServer(t)

	w := ts.do(t, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := testServer(t)

	w := ts.do(t, "GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRegisterAndGetUser(t *testing.T) {
	ts := testServer(t)
	id := ts.register(t, "alice")

	w := ts.do(t, "GET", "/api/v1/users/"+string(id), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var u core.User
	decodeBody(t, w, &u)
	if u.Name != "alice" || !u.IsActive {
		t.Errorf("user = %+v", u)
	}

	// Registration also creates the cognitive profile.
	w = ts.do(t, "GET", "/api/v1/learning/profile", id, nil)
	if w.Code != http.StatusOK {
		t.Errorf("profile status = %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := testServer(t)
	id := ts.register(t, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		user   core.UserID
		body   interface{}
		want   int
	}{
		{"missing user header", "GET", "/api/v1/tasks", "", nil, http.StatusBadRequest},
		{"validation error", "POST", "/api/v1/users", "", map[string]string{}, http.StatusBadRequest},
		{"unknown user", "GET", "/api/v1/users/nobody", "", nil, http.StatusNotFound},
		{"unknown task", "GET", "/api/v1/tasks/missing", id, nil, http.StatusNotFound},
		{"no profile", "GET", "/api/v1/learning/profile", "ghost", nil, http.StatusNotFound},
		{"bad event type", "POST", "/api/v1/events", id, map[string]string{"event_type": "bogus"}, http.StatusBadRequest},
		{"bad lookback", "POST", "/api/v1/learning/learn?lookback_hours=-1", id, nil, http.StatusBadRequest},
		{"unknown job", "POST", "/api/v1/admin/jobs/missing/run", "", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.user, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	ts := testServer(t)

	req := httptest.NewRequest("POST", "/api/v1/users", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAdminJobs(t *testing.T) {
	ts := testServer(t)

	w := ts.do(t, "POST", "/api/v1/admin/jobs/"+engine.JobDecay+"/run", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run job status = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, "GET", "/api/v1/admin/scheduler", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats map[string]interface{}
	decodeBody(t, w, &stats)
	if stats["total_jobs"] != float64(3) {
		t.Errorf("total_jobs = %v, want 3", stats["total_jobs"])
	}
	if stats["total_runs"] != float64(1) {
		t.Errorf("total_runs = %v, want 1", stats["total_runs"])
	}
}

func TestRealtimeStatus(t *testing.T) {
	ts := testServer(t)

	w := ts.do(t, "GET", "/api/v1/realtime/status", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d", w.Code)
	}

	w = ts.do(t, "GET", "/api/v1/realtime/status?user_id=alice", "", nil)
	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	if resp["connected"] != false {
		t.Errorf("connected = %v, want false", resp["connected"])
	}
}
