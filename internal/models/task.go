package models

import (
	"time"

	"gorm.io/datatypes"
)

// TaskStatus defines the workflow status of a fulfillment task
type TaskStatus string

const (
	TaskStatusPending          TaskStatus = "pending"           // Waiting to be claimed/worked
	TaskStatusPicking          TaskStatus = "picking"           // Operator is picking items
	TaskStatusPacked           TaskStatus = "packed"            // Picking finished, carton closed
	TaskStatusInspecting       TaskStatus = "inspecting"        // Quality inspection in progress
	TaskStatusCorrectionNeeded TaskStatus = "correction_needed" // Inspection found a problem
	TaskStatusCorrecting       TaskStatus = "correcting"        // Operator fixing the problem
	TaskStatusCompleted        TaskStatus = "completed"         // Done
	TaskStatusCancelled        TaskStatus = "cancelled"         // Aborted
)

// IsTerminal reports whether the status has no further workflow transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// IsStableCheckpoint reports whether the status has no automatic continuation,
// i.e. it is safe to end an offline operation session here.
func (s TaskStatus) IsStableCheckpoint() bool {
	switch s {
	case TaskStatusPending, TaskStatusPacked, TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// SyncStatus defines the synchronization state of a local task aggregate
type SyncStatus string

const (
	SyncStatusSynced               SyncStatus = "synced"
	SyncStatusPendingSync          SyncStatus = "pending_sync"
	SyncStatusPendingPrioritySync  SyncStatus = "pending_priority_sync"
	SyncStatusPausedPendingSync    SyncStatus = "paused_pending_sync"
	SyncStatusAwaitingServerAck    SyncStatus = "awaiting_server_ack"
	SyncStatusConflictPending      SyncStatus = "conflict_pending_resolution"
	SyncStatusPendingSyncWithDrift SyncStatus = "pending_sync_with_drift"
)

// NeedsPush reports whether the status marks the task for the push phase.
func (s SyncStatus) NeedsPush() bool {
	switch s {
	case SyncStatusPendingSync, SyncStatusPendingPrioritySync, SyncStatusPausedPendingSync,
		SyncStatusAwaitingServerAck, SyncStatusPendingSyncWithDrift:
		return true
	default:
		return false
	}
}

// ActionType is the closed set of workflow transitions an operator can perform
type ActionType string

const (
	ActionStartPicking       ActionType = "start-picking"
	ActionStartPacking       ActionType = "start-packing"
	ActionStartInspection    ActionType = "start-inspection"
	ActionCompleteInspection ActionType = "complete-inspection"
	ActionEnterCorrection    ActionType = "enter-correction"
	ActionResolveCorrection  ActionType = "resolve-correction"
	ActionPause              ActionType = "pause"
	ActionResume             ActionType = "resume"
	ActionCancel             ActionType = "cancel"
	ActionReportException    ActionType = "report-exception"
	ActionUpdateChecklist    ActionType = "update-checklist"
)

// OperationStatus defines the delivery state of a queued operation
type OperationStatus string

const (
	OperationStatusPending     OperationStatus = "pending"
	OperationStatusAwaitingAck OperationStatus = "awaiting_ack"
	OperationStatusSynced      OperationStatus = "synced"
	OperationStatusFailed      OperationStatus = "failed"
)

// MaxOperationRetries is the saturation ceiling for Operation.RetryCount.
// Once reached the operation becomes permanently Failed and is excluded
// from replay but retained for audit.
const MaxOperationRetries = 5

// Task is the aggregate root for a fulfillment task cached on this device
type Task struct {
	ID                 string     `gorm:"primaryKey" json:"id"` // shared with remote
	Status             TaskStatus `gorm:"type:varchar(30);not null;index" json:"status"`
	Paused             bool       `gorm:"default:false" json:"paused"`
	AssignedOperatorID *string    `gorm:"type:varchar(64);index" json:"assigned_operator_id,omitempty"`

	// OperationSequence counts local mutations; it is the primary
	// conflict-resolution signal and must only ever be incremented by the
	// store's serialized writer.
	OperationSequence       int64      `gorm:"not null;default:0" json:"operation_sequence"`
	LastKnownServerSequence int64      `gorm:"not null;default:0" json:"last_known_server_sequence"`
	LocalModifiedAt         time.Time  `gorm:"not null" json:"local_modified_at"`
	SyncStatus              SyncStatus `gorm:"type:varchar(40);not null;index" json:"sync_status"`

	Operations []Operation     `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"operations"`
	Checklist  []ChecklistItem `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE" json:"checklist"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Task) TableName() string {
	return "tasks"
}

// PendingOperations returns queued operations that still need delivery,
// ordered by LocalSequence.
func (t *Task) PendingOperations() []Operation {
	var pending []Operation
	for _, op := range t.Operations {
		if op.Status == OperationStatusPending || op.Status == OperationStatusAwaitingAck {
			pending = append(pending, op)
		}
	}
	return pending
}

// HasPendingWork reports whether any queued operation is not yet acknowledged.
func (t *Task) HasPendingWork() bool {
	return len(t.PendingOperations()) > 0
}

// Operation is one not-yet-acknowledged mutation queued on a task
type Operation struct {
	ID            string          `gorm:"primaryKey" json:"id"` // uuid, client-generated
	TaskID        string          `gorm:"type:varchar(64);not null;index:idx_op_task_seq" json:"task_id"`
	Action        ActionType      `gorm:"type:varchar(30);not null" json:"action"`
	OperatorID    string          `gorm:"type:varchar(64)" json:"operator_id"`
	Payload       datatypes.JSON  `json:"payload"`
	LocalSequence int64           `gorm:"not null;index:idx_op_task_seq" json:"local_sequence"`
	Status        OperationStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	RetryCount    int             `gorm:"default:0" json:"retry_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name
func (Operation) TableName() string {
	return "operations"
}

// ChecklistItem is one line of a task's pick list. Checklist mutations are
// versioned at the task granularity: every change also appends a Task-level
// Operation.
type ChecklistItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TaskID      string    `gorm:"type:varchar(64);not null;index" json:"task_id"`
	SKU         string    `gorm:"type:varchar(64);not null" json:"sku"`
	RequiredQty int       `gorm:"not null" json:"required_qty"`
	PickedQty   int       `gorm:"default:0" json:"picked_qty"`
	Completed   bool      `gorm:"default:false" json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (ChecklistItem) TableName() string {
	return "checklist_items"
}
