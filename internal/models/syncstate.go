package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB type for PostgreSQL JSONB fields
type JSONB map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}

	result := make(JSONB)
	err := json.Unmarshal(bytes, &result)
	*j = result
	return err
}

// Value implements driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// SyncState is the singleton record describing this device's sync engine
// state. Exactly one row (ID=1) exists.
type SyncState struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	LastFullSyncAt *time.Time `json:"last_full_sync_at"`
	IsOnline       bool       `gorm:"default:false" json:"is_online"`
	PendingTasks   int        `gorm:"default:0" json:"pending_tasks"`
	PendingAudits  int        `gorm:"default:0" json:"pending_audits"`
	LastError      *string    `gorm:"type:text" json:"last_error,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName specifies the table name
func (SyncState) TableName() string {
	return "sync_state"
}

// ConflictStatus represents the review state of an escalated conflict
type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
)

// TaskConflict retains both versions of an escalated conflict for manual
// review. Neither snapshot is discarded until a human clears the conflict.
type TaskConflict struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	TaskID         string         `gorm:"type:varchar(64);not null;index" json:"task_id"`
	LocalSnapshot  JSONB          `gorm:"type:jsonb" json:"local_snapshot"`
	RemoteSnapshot JSONB          `gorm:"type:jsonb" json:"remote_snapshot"`
	Reason         string         `gorm:"type:text" json:"reason"`
	Status         ConflictStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     *string        `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName specifies the table name
func (TaskConflict) TableName() string {
	return "task_conflicts"
}
