package store

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/waregrid/picksync/internal/database"
	"github.com/waregrid/picksync/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a task does not exist locally.
var ErrNotFound = errors.New("task not found in local store")

// Store is the durable per-device repository for task aggregates, checklist
// items and audit entries. All mutation paths are serialized through a single
// writer lock: operation sequence assignment must be race-free.
type Store struct {
	mu sync.Mutex
	db *database.DB
}

// NewStore creates a local store on top of the device database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the store's schema.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&models.Task{},
		&models.Operation{},
		&models.ChecklistItem{},
		&models.AuditLogEntry{},
		&models.TaskConflict{},
		&models.SyncState{},
	)
}

// ChecklistUpdate mutates one checklist line, matched by SKU.
type ChecklistUpdate struct {
	SKU       string `json:"sku"`
	PickedQty int    `json:"picked_qty"`
	Completed bool   `json:"completed"`
}

// Mutation describes one local task mutation supplied by the caller. The
// store assigns the operation's LocalSequence.
type Mutation struct {
	Action     models.ActionType
	OperatorID string
	Payload    datatypes.JSON
	Priority   bool // request priority resync
	Checklist  []ChecklistUpdate
}

// ApplyMutation optimistically applies a mutation to a task aggregate and
// appends the corresponding Operation to its queue. The store assigns
// LocalSequence = task.OperationSequence + 1 and increments the task's
// sequence in the same transaction. Returns ErrNotFound if the task does not
// exist locally.
func (s *Store) ApplyMutation(taskID string, m Mutation) (*models.Task, *models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task models.Task
	var op models.Operation

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := preloadTask(tx, taskID, &task); err != nil {
			return err
		}

		seq := task.OperationSequence + 1
		op = models.Operation{
			ID:            uuid.NewString(),
			TaskID:        task.ID,
			Action:        m.Action,
			OperatorID:    m.OperatorID,
			Payload:       m.Payload,
			LocalSequence: seq,
			Status:        models.OperationStatusPending,
		}
		if err := tx.Create(&op).Error; err != nil {
			return fmt.Errorf("failed to append operation: %w", err)
		}

		applyWorkflowTransition(&task, m.Action)

		for _, cu := range m.Checklist {
			res := tx.Model(&models.ChecklistItem{}).
				Where("task_id = ? AND sku = ?", task.ID, cu.SKU).
				Updates(map[string]interface{}{
					"picked_qty": cu.PickedQty,
					"completed":  cu.Completed,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to update checklist line %s: %w", cu.SKU, res.Error)
			}
		}

		task.OperationSequence = seq
		task.LocalModifiedAt = time.Now().UTC()
		task.SyncStatus = mutationSyncStatus(&task, m)

		return tx.Model(&models.Task{}).Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":             task.Status,
				"paused":             task.Paused,
				"operation_sequence": task.OperationSequence,
				"local_modified_at":  task.LocalModifiedAt,
				"sync_status":        task.SyncStatus,
			}).Error
	})
	if err != nil {
		return nil, nil, err
	}

	task.Operations = append(task.Operations, op)
	return &task, &op, nil
}

// mutationSyncStatus picks the post-mutation sync status for the aggregate.
func mutationSyncStatus(task *models.Task, m Mutation) models.SyncStatus {
	switch {
	case m.Action == models.ActionPause:
		return models.SyncStatusPausedPendingSync
	case m.Priority:
		return models.SyncStatusPendingPrioritySync
	case task.SyncStatus == models.SyncStatusPendingPrioritySync,
		task.SyncStatus == models.SyncStatusPendingSyncWithDrift,
		task.SyncStatus == models.SyncStatusConflictPending:
		// Do not downgrade a stronger pending state.
		return task.SyncStatus
	default:
		return models.SyncStatusPendingSync
	}
}

// applyWorkflowTransition applies the optimistic status change for an action.
func applyWorkflowTransition(task *models.Task, action models.ActionType) {
	switch action {
	case models.ActionStartPicking:
		task.Status = models.TaskStatusPicking
	case models.ActionStartPacking:
		task.Status = models.TaskStatusPacked
	case models.ActionStartInspection:
		task.Status = models.TaskStatusInspecting
	case models.ActionCompleteInspection:
		task.Status = models.TaskStatusCompleted
	case models.ActionReportException:
		task.Status = models.TaskStatusCorrectionNeeded
	case models.ActionEnterCorrection:
		task.Status = models.TaskStatusCorrecting
	case models.ActionResolveCorrection:
		task.Status = models.TaskStatusPacked
	case models.ActionCancel:
		task.Status = models.TaskStatusCancelled
	case models.ActionPause:
		task.Paused = true
	case models.ActionResume:
		task.Paused = false
	case models.ActionUpdateChecklist:
		// Checklist edits do not move the workflow.
	}
}

// Task returns a task aggregate with its operation queue (ordered by
// LocalSequence) and checklist preloaded.
func (s *Store) Task(taskID string) (*models.Task, error) {
	var task models.Task
	if err := preloadTask(s.db.DB, taskID, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Tasks returns all locally cached task aggregates.
func (s *Store) Tasks() ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("local_sequence ASC")
		}).
		Preload("Checklist").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// FetchPendingSync returns all tasks whose sync status marks them for the
// push phase.
func (s *Store) FetchPendingSync() ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.
		Where("sync_status IN ?", []models.SyncStatus{
			models.SyncStatusPendingSync,
			models.SyncStatusPendingPrioritySync,
			models.SyncStatusPausedPendingSync,
			models.SyncStatusAwaitingServerAck,
			models.SyncStatusPendingSyncWithDrift,
		}).
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("local_sequence ASC")
		}).
		Preload("Checklist").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}
	return tasks, nil
}

// DeleteIfSynced deletes the aggregate only when it is fully synced with no
// queued operations left. Returns false ("kept") otherwise: deletion is only
// safe when there is nothing left to lose.
func (s *Store) DeleteIfSynced(taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task models.Task
	if err := preloadTask(s.db.DB, taskID, &task); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if task.SyncStatus != models.SyncStatusSynced || task.HasPendingWork() {
		log.Printf("⏭️ Store: Keeping task %s (status=%s, pending=%d)", taskID, task.SyncStatus, len(task.PendingOperations()))
		return false, nil
	}

	// A permanently failed operation keeps the aggregate around for manual
	// intervention even once everything else has synced.
	for _, op := range task.Operations {
		if op.Status == models.OperationStatusFailed {
			log.Printf("⏭️ Store: Keeping task %s (failed operation %s retained for review)", taskID, op.ID)
			return false, nil
		}
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&models.Operation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&models.ChecklistItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Task{}, "id = ?", taskID).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}

	log.Printf("🗑️ Store: Task %s deleted, ownership returned to remote", taskID)
	return true, nil
}

// MarkOperationAwaitingAck transitions an operation Pending -> AwaitingAck
// just before it is sent, and flags the aggregate accordingly.
func (s *Store) MarkOperationAwaitingAck(taskID, opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Operation{}).Where("id = ?", opID).
			Update("status", models.OperationStatusAwaitingAck).Error; err != nil {
			return err
		}
		return tx.Model(&models.Task{}).Where("id = ? AND sync_status <> ?", taskID, models.SyncStatusConflictPending).
			Update("sync_status", models.SyncStatusAwaitingServerAck).Error
	})
}

// MarkOperationPending reverts an in-flight operation to Pending without
// touching its retry count. A closed sync window is not a delivery verdict;
// the operation stays replayable at full retry budget.
func (s *Store) MarkOperationPending(taskID, opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Operation{}).Where("id = ?", opID).
			Update("status", models.OperationStatusPending).Error; err != nil {
			return err
		}
		return tx.Model(&models.Task{}).Where("id = ? AND sync_status = ?", taskID, models.SyncStatusAwaitingServerAck).
			Update("sync_status", models.SyncStatusPendingSync).Error
	})
}

// MarkOperationSynced acknowledges an operation and records the server
// sequence the remote reported. When the queue drains the aggregate becomes
// Synced.
func (s *Store) MarkOperationSynced(taskID, opID string, serverSequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Operation{}).Where("id = ?", opID).
			Update("status", models.OperationStatusSynced).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.Operation{}).
			Where("task_id = ? AND status IN ?", taskID,
				[]models.OperationStatus{models.OperationStatusPending, models.OperationStatusAwaitingAck}).
			Count(&remaining).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if serverSequence > 0 {
			updates["last_known_server_sequence"] = serverSequence
		}
		if remaining == 0 {
			updates["sync_status"] = models.SyncStatusSynced
		} else {
			updates["sync_status"] = models.SyncStatusPendingSync
		}
		return tx.Model(&models.Task{}).Where("id = ? AND sync_status <> ?", taskID, models.SyncStatusConflictPending).
			Updates(updates).Error
	})
}

// MarkOperationFailedAttempt reverts an operation to Pending after a failed
// send and increments its retry count. At MaxOperationRetries the operation
// becomes permanently Failed: excluded from replay, retained for audit.
func (s *Store) MarkOperationFailedAttempt(taskID, opID string) (permanentlyFailed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var op models.Operation
		if err := tx.First(&op, "id = ?", opID).Error; err != nil {
			return err
		}

		op.RetryCount++
		op.Status = models.OperationStatusPending
		if op.RetryCount >= models.MaxOperationRetries {
			op.Status = models.OperationStatusFailed
			permanentlyFailed = true
			log.Printf("🔴 Store: Operation %s on task %s permanently failed after %d attempts", opID, taskID, op.RetryCount)
		}
		if err := tx.Model(&models.Operation{}).Where("id = ?", opID).
			Updates(map[string]interface{}{"status": op.Status, "retry_count": op.RetryCount}).Error; err != nil {
			return err
		}

		return tx.Model(&models.Task{}).Where("id = ? AND sync_status = ?", taskID, models.SyncStatusAwaitingServerAck).
			Update("sync_status", models.SyncStatusPendingSync).Error
	})
	return permanentlyFailed, err
}

// MarkOperationRejected permanently fails an operation the server refused.
// Retrying a rejected action cannot change the server's mind, so the retry
// count saturates immediately. The task is not deleted, preserving the
// failure for manual intervention.
func (s *Store) MarkOperationRejected(taskID, opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Operation{}).Where("id = ?", opID).
			Updates(map[string]interface{}{
				"status":      models.OperationStatusFailed,
				"retry_count": models.MaxOperationRetries,
			}).Error; err != nil {
			return err
		}

		// The task deliberately stays in a pending state: a rejected
		// operation must remain visible and keeps the aggregate out of
		// reconciliation's reach.
		return tx.Model(&models.Task{}).Where("id = ? AND sync_status <> ?", taskID, models.SyncStatusConflictPending).
			Update("sync_status", models.SyncStatusPendingSync).Error
	})
}

// MarkPriorityResync flags a task for the next cycle's priority push.
func (s *Store) MarkPriorityResync(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Model(&models.Task{}).Where("id = ?", taskID).
		Update("sync_status", models.SyncStatusPendingPrioritySync).Error
}

// MarkDrift flags a task whose remote sequence advanced beyond what its own
// queued operations explain.
func (s *Store) MarkDrift(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Model(&models.Task{}).Where("id = ?", taskID).
		Update("sync_status", models.SyncStatusPendingSyncWithDrift).Error
}

func preloadTask(tx *gorm.DB, taskID string, task *models.Task) error {
	err := tx.
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("local_sequence ASC")
		}).
		Preload("Checklist").
		First(task, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	return nil
}
