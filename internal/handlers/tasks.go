package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/store"
)

// listTasks returns all local task aggregates
func (r *Router) listTasks(w http.ResponseWriter, req *http.Request) {
	tasks, err := r.agent.Tasks()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch tasks")
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

// getTask returns one task with its operation queue and checklist
func (r *Router) getTask(w http.ResponseWriter, req *http.Request) {
	taskID := mux.Vars(req)["id"]

	task, err := r.agent.Task(taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to fetch task")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type actionRequest struct {
	Action     string                  `json:"action"`
	OperatorID string                  `json:"operator_id"`
	Payload    json.RawMessage         `json:"payload,omitempty"`
	Priority   bool                    `json:"priority,omitempty"`
	Checklist  []store.ChecklistUpdate `json:"checklist,omitempty"`
}

// applyAction applies one operator action to a task
func (r *Router) applyAction(w http.ResponseWriter, req *http.Request) {
	taskID := mux.Vars(req)["id"]

	var body actionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if body.Action == "" || body.OperatorID == "" {
		respondError(w, http.StatusBadRequest, "action and operator_id are required")
		return
	}

	task, err := r.agent.ApplyMutation(req.Context(), taskID, store.Mutation{
		Action:     models.ActionType(body.Action),
		OperatorID: body.OperatorID,
		Payload:    datatypes.JSON(body.Payload),
		Priority:   body.Priority,
		Checklist:  body.Checklist,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to apply action")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type claimRequest struct {
	OperatorID string `json:"operator_id"`
}

// claimTask fetches a pending task from the server and starts picking it
func (r *Router) claimTask(w http.ResponseWriter, req *http.Request) {
	taskID := mux.Vars(req)["id"]

	var body claimRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if body.OperatorID == "" {
		respondError(w, http.StatusBadRequest, "operator_id is required")
		return
	}

	task, err := r.agent.ClaimTask(req.Context(), taskID, body.OperatorID)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}
