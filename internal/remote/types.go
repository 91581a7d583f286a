package remote

import "time"

// ChecklistLine is one pick-list line as reported by the remote backend.
type ChecklistLine struct {
	SKU         string `json:"sku"`
	RequiredQty int    `json:"requiredQty"`
	PickedQty   int    `json:"pickedQty"`
	Completed   bool   `json:"completed"`
}

// TaskSnapshot is the remote's authoritative view of a task.
type TaskSnapshot struct {
	ID                 string          `json:"id"`
	Status             string          `json:"status"`
	Paused             bool            `json:"paused"`
	AssignedOperatorID *string         `json:"assignedOperatorId,omitempty"`
	OperationSequence  int64           `json:"operationSequence"`
	LastModifiedAt     time.Time       `json:"lastModifiedAt"`
	Checklist          []ChecklistLine `json:"checklist"`
}

// DashboardResponse groups task snapshots by workflow stage.
type DashboardResponse struct {
	Groups map[string][]TaskSnapshot `json:"groups"`
}

// AllTasks flattens the grouped dashboard into a single snapshot list.
func (d *DashboardResponse) AllTasks() []TaskSnapshot {
	var all []TaskSnapshot
	for _, group := range d.Groups {
		all = append(all, group...)
	}
	return all
}

// ActionRequest is the authoritative mutation request for POST /tasks/action.
type ActionRequest struct {
	TaskID     string                 `json:"taskId"`
	Action     string                 `json:"action"`
	OperatorID string                 `json:"operatorId"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// ChecklistUpdateRequest is the body for PUT /tasks/{id}/checklist.
type ChecklistUpdateRequest struct {
	ChecklistJSON string `json:"checklistJson"`
	OperatorID    string `json:"operatorId"`
}

// AuditEntryPayload is one entry in a POST /audit-logs/sync batch.
type AuditEntryPayload struct {
	EntryID           string `json:"entryId"`
	Timestamp         string `json:"timestamp"`
	ActionType        string `json:"actionType"`
	StaffID           string `json:"staffId"`
	TaskID            string `json:"taskId"`
	OperationSequence int64  `json:"operationSequence"`
	OldValue          string `json:"oldValue,omitempty"`
	NewValue          string `json:"newValue,omitempty"`
	Details           string `json:"details,omitempty"`
}

// AuditSyncResult is the per-entry outcome of an audit batch.
type AuditSyncResult struct {
	EntryID string `json:"entryId"`
	Synced  bool   `json:"synced"`
	Error   string `json:"error,omitempty"`
}
