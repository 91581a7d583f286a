package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/store"
	"github.com/waregrid/picksync/internal/utils"
)

// ScanRequest represents one trigger pull on the handheld scanner
type ScanRequest struct {
	ScanID     string `json:"scan_id"` // client-generated, for double-fire suppression
	Barcode    string `json:"barcode"`
	OperatorID string `json:"operator_id"`
	Qty        int    `json:"qty,omitempty"` // defaults to 1
}

// ScanResponse standardizes the scan result
type ScanResponse struct {
	SKU       string       `json:"sku"`
	PickedQty int          `json:"picked_qty"`
	Required  int          `json:"required_qty"`
	Completed bool         `json:"completed"`
	Task      *models.Task `json:"task"`
}

// handleScan resolves a barcode against the task's checklist and records the
// pick as a queued checklist mutation.
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) {
	taskID := mux.Vars(req)["id"]

	var body ScanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.OperatorID == "" {
		respondError(w, http.StatusBadRequest, "operator_id is required")
		return
	}

	if utils.IsDuplicateScan(body.ScanID) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate scan ignored"})
		return
	}

	scan, err := utils.ParseScan(body.Barcode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := r.agent.Task(taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to fetch task")
		return
	}

	line := findChecklistLine(task, scan.SKU)
	if line == nil {
		respondError(w, http.StatusConflict,
			fmt.Sprintf("SKU %s is not on this task's checklist", scan.SKU))
		return
	}

	qty := body.Qty
	if qty <= 0 {
		qty = 1
	}
	picked := line.PickedQty + qty
	completed := picked >= line.RequiredQty

	payload, err := json.Marshal(map[string]interface{}{
		"sku":        scan.SKU,
		"serial":     scan.Serial,
		"picked_qty": picked,
		"completed":  completed,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to encode scan payload")
		return
	}

	updated, err := r.agent.ApplyMutation(req.Context(), taskID, store.Mutation{
		Action:     models.ActionUpdateChecklist,
		OperatorID: body.OperatorID,
		Payload:    datatypes.JSON(payload),
		Checklist: []store.ChecklistUpdate{
			{SKU: scan.SKU, PickedQty: picked, Completed: completed},
		},
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record pick")
		return
	}

	respondJSON(w, http.StatusOK, ScanResponse{
		SKU:       scan.SKU,
		PickedQty: picked,
		Required:  line.RequiredQty,
		Completed: completed,
		Task:      updated,
	})
}

func findChecklistLine(task *models.Task, sku string) *models.ChecklistItem {
	for i := range task.Checklist {
		if task.Checklist[i].SKU == sku {
			return &task.Checklist[i]
		}
	}
	return nil
}
