package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ifirmawan/akvo-mis-sub000/internal/models"
	"github.com/ifirmawan/akvo-mis-sub000/internal/store"
	syncpkg "github.com/ifirmawan/akvo-mis-sub000/internal/sync"
	"github.com/ifirmawan/akvo-mis-sub000/internal/sync/scheduler"
)

// idleEngine satisfies scheduler.Engine without touching the network.
type idleEngine struct{}

func (idleEngine) SubmissionSync(ctx context.Context) (*syncpkg.Result, error) {
	return &syncpkg.Result{}, nil
}
func (idleEngine) PullDataPoints(ctx context.Context) error           { return nil }
func (idleEngine) ReconcileDrafts(ctx context.Context) error          { return nil }
func (idleEngine) CheckFormVersions(ctx context.Context) (int, error) { return 0, nil }
func (idleEngine) DraftsPending() bool                                { return false }

func createTestHandler(t *testing.T) (*SyncHandler, *store.Repository) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	repo := store.NewRepository(db)
	sched := scheduler.New(idleEngine{}, &scheduler.Config{
		SyncInterval:       time.Hour,
		ForegroundInterval: time.Hour,
		CycleTimeout:       time.Second,
	})
	return NewSyncHandler(repo, sched, "u1"), repo
}

// TestHealth verifies the health endpoint.
func TestHealth(t *testing.T) {
	handler, _ := createTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	handler.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health status = %d, want 200", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("Unexpected health body %v", body)
	}
}

// TestHealth_methodNotAllowed verifies only GET is accepted.
func TestHealth_methodNotAllowed(t *testing.T) {
	handler, _ := createTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	handler.Health(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Health POST status = %d, want 405", w.Code)
	}
}

// TestStatus verifies the merged status payload includes the unsynced
// record count.
func TestStatus(t *testing.T) {
	handler, repo := createTestHandler(t)
	if err := repo.InsertDataPoint(&models.DataPoint{
		FormID: 1, User: "u1", Submitted: 1, Name: "dp",
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	w := httptest.NewRecorder()
	handler.Status(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var body struct {
		Unsynced   int                    `json:"unsynced"`
		DataPoints int                    `json:"datapoints"`
		Scheduler  map[string]interface{} `json:"scheduler"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Unsynced != 1 || body.DataPoints != 1 {
		t.Errorf("Unexpected counts %+v", body)
	}
	if body.Scheduler == nil {
		t.Error("Expected scheduler snapshot in status body")
	}
}

// TestTriggerSync verifies the trigger returns 202 then 409 while the
// cycle holds the guard.
func TestTriggerSync(t *testing.T) {
	handler, _ := createTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	w := httptest.NewRecorder()
	handler.TriggerSync(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("TriggerSync status = %d, want 202", w.Code)
	}
}

// TestTriggerPull verifies the pull trigger is accepted.
func TestTriggerPull(t *testing.T) {
	handler, _ := createTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/pull", nil)
	w := httptest.NewRecorder()
	handler.TriggerPull(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("TriggerPull status = %d, want 202", w.Code)
	}
}

// slowPullEngine reports the context error its pull observes after the
// request that triggered it has returned.
type slowPullEngine struct {
	idleEngine
	ctxErr chan error
}

func (e *slowPullEngine) PullDataPoints(ctx context.Context) error {
	// Let the trigger request finish before the first remote call.
	time.Sleep(50 * time.Millisecond)
	e.ctxErr <- ctx.Err()
	return nil
}

// TestTriggerPull_outlivesRequest verifies a triggered pull runs on the
// scheduler's lifetime context: it must stay alive after the trigger
// request returns and net/http cancels the request context.
func TestTriggerPull_outlivesRequest(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	engine := &slowPullEngine{ctxErr: make(chan error, 1)}
	sched := scheduler.New(engine, &scheduler.Config{
		SyncInterval:       time.Hour,
		ForegroundInterval: time.Hour,
		CycleTimeout:       time.Second,
	})
	handler := NewSyncHandler(store.NewRepository(db), sched, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/sync/pull", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	handler.TriggerPull(w, req)
	// The server cancels the request context once the handler returns.
	cancel()

	if w.Code != http.StatusAccepted {
		t.Fatalf("TriggerPull status = %d, want 202", w.Code)
	}

	select {
	case err := <-engine.ctxErr:
		if err != nil {
			t.Errorf("Pull context died with the request: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pull never reached the engine")
	}
}

// TestDraftChanged verifies the draft signal endpoint.
func TestDraftChanged(t *testing.T) {
	handler, _ := createTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/drafts/changed", nil)
	w := httptest.NewRecorder()
	handler.DraftChanged(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("DraftChanged status = %d, want 202", w.Code)
	}
}

// TestForeground verifies focus reporting.
func TestForeground(t *testing.T) {
	handler, _ := createTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/app/foreground",
		strings.NewReader(`{"active":true}`))
	w := httptest.NewRecorder()
	handler.Foreground(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Foreground status = %d, want 200", w.Code)
	}
}

// TestForeground_badBody verifies malformed JSON is rejected.
func TestForeground_badBody(t *testing.T) {
	handler, _ := createTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/app/foreground",
		strings.NewReader(`{`))
	w := httptest.NewRecorder()
	handler.Foreground(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Foreground bad body status = %d, want 400", w.Code)
	}
}
