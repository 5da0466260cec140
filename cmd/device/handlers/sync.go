// Package handlers provides the localhost REST API the capture UI uses
// to inspect and drive the sync daemon.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ifirmawan/akvo-mis-sub000/internal/store"
	"github.com/ifirmawan/akvo-mis-sub000/internal/sync/scheduler"
)

// SyncHandler exposes sync status and trigger endpoints.
type SyncHandler struct {
	repo      *store.Repository
	scheduler *scheduler.Scheduler
	user      string
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(repo *store.Repository, sched *scheduler.Scheduler, user string) *SyncHandler {
	return &SyncHandler{
		repo:      repo,
		scheduler: sched,
		user:      user,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Health handles GET /api/health.
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mis-device",
	})
}

// Status handles GET /api/sync/status. It merges the scheduler snapshot
// with store counts so the UI can render a badge from one call.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.scheduler.GetStatus()

	unsynced, err := h.repo.SelectUnsynced(h.user)
	if err != nil {
		http.Error(w, "Failed to query record store", http.StatusInternalServerError)
		return
	}
	total, err := h.repo.CountDataPoints()
	if err != nil {
		http.Error(w, "Failed to query record store", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler":  status,
		"unsynced":   len(unsynced),
		"datapoints": total,
	})
}

// TriggerSync handles POST /api/sync/trigger. Returns 202 when a cycle
// was started, 409 when one is already in flight.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The cycle runs on the scheduler's lifetime context, never the
	// request context: the handler returns 202 before the cycle ends.
	if !h.scheduler.TriggerSync() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "already_running",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// TriggerPull handles POST /api/sync/pull, the user-initiated download
// of remote datapoints.
func (h *SyncHandler) TriggerPull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.scheduler.TriggerPull() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "already_running",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// DraftChanged handles POST /api/drafts/changed. The form module calls
// this after creating or editing a draft so reconciliation runs without
// waiting for the next timer.
func (h *SyncHandler) DraftChanged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.scheduler.NotifyDraftChange()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "signalled"})
}

// Foreground handles POST /api/app/foreground with {"active": bool}.
// The capture UI reports focus changes so the faster trigger only runs
// while someone is actually using the device.
func (h *SyncHandler) Foreground(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.scheduler.SetForeground(request.Active)
	writeJSON(w, http.StatusOK, map[string]bool{"active": request.Active})
}
