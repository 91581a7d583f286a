package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// getSyncStatus returns the persisted sync state plus live connectivity
func (r *Router) getSyncStatus(w http.ResponseWriter, req *http.Request) {
	state, err := r.agent.Status()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read sync state")
		return
	}

	pending, err := r.agent.FetchPendingSync()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count pending tasks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":           state,
		"pending_tasks":   len(pending),
		"active_sessions": r.agent.Sessions().ActiveSessions(),
	})
}

// triggerSync requests a sync cycle; concurrent requests coalesce
func (r *Router) triggerSync(w http.ResponseWriter, req *http.Request) {
	r.agent.TriggerSync()
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "sync requested",
	})
}

// syncNow runs a full cycle synchronously and returns its result
func (r *Router) syncNow(w http.ResponseWriter, req *http.Request) {
	result := r.agent.SyncNow(req.Context())
	if result == nil {
		respondJSON(w, http.StatusConflict, map[string]string{
			"status": "sync already in progress",
		})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// listConflicts returns unresolved escalated conflicts
func (r *Router) listConflicts(w http.ResponseWriter, req *http.Request) {
	conflicts, err := r.agent.PendingConflicts()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch conflicts")
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

type resolveConflictRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// resolveConflict records an operator verdict on an escalated conflict
func (r *Router) resolveConflict(w http.ResponseWriter, req *http.Request) {
	taskID := mux.Vars(req)["id"]

	var body resolveConflictRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if body.ResolvedBy == "" {
		respondError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	if err := r.agent.ResolveConflict(taskID, body.ResolvedBy); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve conflict")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "resolved",
	})
}
