package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditSyncStatus defines the delivery state of an audit entry
type AuditSyncStatus string

const (
	AuditSyncPending     AuditSyncStatus = "pending"
	AuditSyncAwaitingAck AuditSyncStatus = "awaiting_ack"
	AuditSyncSynced      AuditSyncStatus = "synced"
)

// AuditLogEntry records one operator action. Entries are append-only and
// immutable once created; only SyncStatus may change afterwards.
// ID doubles as the entry's own local sequence number, distinct from the
// task's operation sequence.
type AuditLogEntry struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID           string          `gorm:"type:varchar(64);uniqueIndex" json:"entry_id"` // uuid, stable across devices
	TaskID            string          `gorm:"type:varchar(64);not null;index" json:"task_id"`
	OperatorID        string          `gorm:"type:varchar(64);not null" json:"operator_id"`
	Action            ActionType      `gorm:"type:varchar(30);not null" json:"action"`
	OldValue          datatypes.JSON  `json:"old_value"`
	NewValue          datatypes.JSON  `json:"new_value"`
	Details           string          `gorm:"type:text" json:"details"`
	OperationSequence int64           `json:"operation_sequence"` // task sequence at the time of the action
	SyncStatus        AuditSyncStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"sync_status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TableName specifies the table name
func (AuditLogEntry) TableName() string {
	return "audit_log_entries"
}

// BeforeCreate assigns a stable entry id
func (a *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if a.EntryID == "" {
		a.EntryID = uuid.NewString()
	}
	return nil
}
