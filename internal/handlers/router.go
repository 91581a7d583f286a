package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/waregrid/picksync/internal/agent"
	"github.com/waregrid/picksync/internal/buildinfo"
	"github.com/waregrid/picksync/internal/websocket"
)

// Router wraps the mux router and the agent facade
type Router struct {
	*mux.Router
	agent *agent.Agent
	hub   *websocket.Hub
}

// NewRouter creates the local HTTP surface the device UI talks to
func NewRouter(a *agent.Agent, hub *websocket.Hub) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		agent:  a,
		hub:    hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Task routes
	tasks := r.PathPrefix("/api/tasks").Subrouter()
	tasks.HandleFunc("", r.listTasks).Methods("GET")
	tasks.HandleFunc("/{id}", r.getTask).Methods("GET")
	tasks.HandleFunc("/{id}/action", r.applyAction).Methods("POST")
	tasks.HandleFunc("/{id}/claim", r.claimTask).Methods("POST")
	tasks.HandleFunc("/{id}/scan", r.handleScan).Methods("POST")

	// Sync control routes
	sync := r.PathPrefix("/api/sync").Subrouter()
	sync.HandleFunc("/status", r.getSyncStatus).Methods("GET")
	sync.HandleFunc("/trigger", r.triggerSync).Methods("POST")
	sync.HandleFunc("/now", r.syncNow).Methods("POST")

	// Conflict routes
	conflicts := r.PathPrefix("/api/conflicts").Subrouter()
	conflicts.HandleFunc("", r.listConflicts).Methods("GET")
	conflicts.HandleFunc("/{id}/resolve", r.resolveConflict).Methods("POST")

	// Event stream for the UI shell
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the agent
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"server":  "agent",
		"started": buildinfo.StartTime,
		"commit":  buildinfo.CommitHash,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
