package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/waregrid/picksync/internal/models"
	"gorm.io/gorm"
)

// SyncState loads the singleton sync-state record, creating it on first use.
func (s *Store) SyncState() (*models.SyncState, error) {
	var state models.SyncState
	err := s.db.First(&state, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = models.SyncState{ID: 1}
		if err := s.db.Create(&state).Error; err != nil {
			return nil, fmt.Errorf("failed to create sync state: %w", err)
		}
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	return &state, nil
}

// RecordSyncOutcome updates the singleton record after a sync cycle.
func (s *Store) RecordSyncOutcome(fullSync bool, lastErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pendingTasks, pendingAudits, err := s.pendingCounts()
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"pending_tasks":  pendingTasks,
		"pending_audits": pendingAudits,
	}
	if fullSync {
		updates["last_full_sync_at"] = time.Now().UTC()
	}
	if lastErr != nil {
		updates["last_error"] = lastErr.Error()
	} else {
		updates["last_error"] = nil
	}

	if _, err := s.syncStateLocked(); err != nil {
		return err
	}
	return s.db.Model(&models.SyncState{}).Where("id = ?", 1).Updates(updates).Error
}

// SetOnline records the connectivity flag in the singleton record.
func (s *Store) SetOnline(online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.syncStateLocked(); err != nil {
		return err
	}
	return s.db.Model(&models.SyncState{}).Where("id = ?", 1).
		Update("is_online", online).Error
}

// PendingCounts returns how many tasks and audit entries still need a push.
func (s *Store) PendingCounts() (tasks int, audits int, err error) {
	return s.pendingCounts()
}

func (s *Store) pendingCounts() (int, int, error) {
	var taskCount, auditCount int64
	err := s.db.Model(&models.Task{}).
		Where("sync_status IN ?", []models.SyncStatus{
			models.SyncStatusPendingSync,
			models.SyncStatusPendingPrioritySync,
			models.SyncStatusPausedPendingSync,
			models.SyncStatusAwaitingServerAck,
			models.SyncStatusPendingSyncWithDrift,
		}).Count(&taskCount).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	err = s.db.Model(&models.AuditLogEntry{}).
		Where("sync_status IN ?", []models.AuditSyncStatus{models.AuditSyncPending, models.AuditSyncAwaitingAck}).
		Count(&auditCount).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pending audits: %w", err)
	}
	return int(taskCount), int(auditCount), nil
}

func (s *Store) syncStateLocked() (*models.SyncState, error) {
	var state models.SyncState
	err := s.db.First(&state, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = models.SyncState{ID: 1}
		if err := s.db.Create(&state).Error; err != nil {
			return nil, err
		}
		return &state, nil
	}
	return &state, err
}
