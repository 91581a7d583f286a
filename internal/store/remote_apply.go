package store

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/remote"
	"gorm.io/gorm"
)

// MaterializeRemote creates a local Synced aggregate from a remote snapshot.
func (s *Store) MaterializeRemote(snap *remote.TaskSnapshot) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := taskFromSnapshot(snap)
	// Create inserts the checklist rows through the association.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(task).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to materialize remote task %s: %w", snap.ID, err)
	}
	return task, nil
}

// ReplaceWithRemote overwrites a local aggregate's fields, checklist and
// sequence trackers with the remote snapshot. Queued operations that were
// still unacknowledged are dropped: the resolver has ruled the remote version
// authoritative, so replaying them would re-apply superseded work. The audit
// log keeps the record of what was attempted.
func (s *Store) ReplaceWithRemote(snap *remote.TaskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.First(&task, "id = ?", snap.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, snap.ID)
			}
			return err
		}

		res := tx.
			Where("task_id = ? AND status IN ?", snap.ID,
				[]models.OperationStatus{models.OperationStatusPending, models.OperationStatusAwaitingAck}).
			Delete(&models.Operation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			log.Printf("⚠️ Store: %d superseded operations on task %s dropped (remote won)", res.RowsAffected, snap.ID)
		}

		if err := tx.Where("task_id = ?", snap.ID).Delete(&models.ChecklistItem{}).Error; err != nil {
			return err
		}
		items := checklistFromSnapshot(snap)
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.Task{}).Where("id = ?", snap.ID).
			Updates(map[string]interface{}{
				"status":                     models.TaskStatus(snap.Status),
				"paused":                     snap.Paused,
				"assigned_operator_id":       snap.AssignedOperatorID,
				"operation_sequence":         snap.OperationSequence,
				"last_known_server_sequence": snap.OperationSequence,
				"local_modified_at":          snap.LastModifiedAt.UTC(),
				"sync_status":                models.SyncStatusSynced,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace task %s with remote: %w", snap.ID, err)
	}
	return nil
}

// MarkConflict escalates a conflict: both versions are retained, the local
// aggregate stays authoritative for display, and the task is excluded from
// automatic deletion until a reviewer clears it.
func (s *Store) MarkConflict(taskID string, local *models.Task, snap *remote.TaskSnapshot, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conflict := models.TaskConflict{
		TaskID:         taskID,
		LocalSnapshot:  taskSnapshotJSON(local),
		RemoteSnapshot: remoteSnapshotJSON(snap),
		Reason:         reason,
		Status:         models.ConflictStatusPending,
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conflict).Error; err != nil {
			return err
		}
		return tx.Model(&models.Task{}).Where("id = ?", taskID).
			Update("sync_status", models.SyncStatusConflictPending).Error
	})
}

// ResolveConflict clears an escalated conflict after human review and queues
// the task for priority resync.
func (s *Store) ResolveConflict(taskID, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.TaskConflict{}).
			Where("task_id = ? AND status = ?", taskID, models.ConflictStatusPending).
			Updates(map[string]interface{}{
				"status":      models.ConflictStatusResolved,
				"resolved_at": now,
				"resolved_by": resolvedBy,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Task{}).Where("id = ?", taskID).
			Update("sync_status", models.SyncStatusPendingPrioritySync).Error
	})
}

// PendingConflicts lists conflicts awaiting review.
func (s *Store) PendingConflicts() ([]models.TaskConflict, error) {
	var conflicts []models.TaskConflict
	err := s.db.Where("status = ?", models.ConflictStatusPending).Find(&conflicts).Error
	return conflicts, err
}

func taskFromSnapshot(snap *remote.TaskSnapshot) *models.Task {
	return &models.Task{
		ID:                      snap.ID,
		Status:                  models.TaskStatus(snap.Status),
		Paused:                  snap.Paused,
		AssignedOperatorID:      snap.AssignedOperatorID,
		OperationSequence:       snap.OperationSequence,
		LastKnownServerSequence: snap.OperationSequence,
		LocalModifiedAt:         snap.LastModifiedAt.UTC(),
		SyncStatus:              models.SyncStatusSynced,
		Checklist:               checklistFromSnapshot(snap),
	}
}

func checklistFromSnapshot(snap *remote.TaskSnapshot) []models.ChecklistItem {
	items := make([]models.ChecklistItem, 0, len(snap.Checklist))
	for _, line := range snap.Checklist {
		items = append(items, models.ChecklistItem{
			TaskID:      snap.ID,
			SKU:         line.SKU,
			RequiredQty: line.RequiredQty,
			PickedQty:   line.PickedQty,
			Completed:   line.Completed,
		})
	}
	return items
}

func taskSnapshotJSON(t *models.Task) models.JSONB {
	if t == nil {
		return models.JSONB{}
	}
	return models.JSONB{
		"id":                 t.ID,
		"status":             string(t.Status),
		"paused":             t.Paused,
		"operation_sequence": t.OperationSequence,
		"local_modified_at":  t.LocalModifiedAt.Format(time.RFC3339),
		"sync_status":        string(t.SyncStatus),
	}
}

func remoteSnapshotJSON(snap *remote.TaskSnapshot) models.JSONB {
	if snap == nil {
		return models.JSONB{}
	}
	return models.JSONB{
		"id":                 snap.ID,
		"status":             snap.Status,
		"paused":             snap.Paused,
		"operation_sequence": snap.OperationSequence,
		"last_modified_at":   snap.LastModifiedAt.Format(time.RFC3339),
	}
}
