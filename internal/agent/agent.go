package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gorm.io/datatypes"

	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/store"
	syncengine "github.com/waregrid/picksync/internal/sync"
)

// Agent is the device-facing surface of the sync stack. UI handlers talk to
// the agent; the agent routes every write through the local store first and
// decides when the engine should attempt delivery.
type Agent struct {
	store    *store.Store
	engine   *syncengine.Engine
	sessions *syncengine.SessionTracker
	conn     *syncengine.ConnectionManager
	api      syncengine.RemoteAPI
}

// New wires the facade. The session tracker's flush callback is bound to the
// engine so a completed offline session drains immediately on reconnect.
func New(st *store.Store, engine *syncengine.Engine, conn *syncengine.ConnectionManager, api syncengine.RemoteAPI) *Agent {
	a := &Agent{
		store:  st,
		engine: engine,
		conn:   conn,
		api:    api,
	}
	a.sessions = syncengine.NewSessionTracker(conn, func(taskID string) {
		engine.TriggerSync()
	})
	return a
}

// Sessions exposes the tracker for status endpoints.
func (a *Agent) Sessions() *syncengine.SessionTracker {
	return a.sessions
}

// ApplyMutation applies one operator action to a task: optimistic local
// write, operation queued, audit entry appended. When the device is online
// and the task is not pinned to an offline session, a sync is triggered so
// the operation reaches the server immediately.
func (a *Agent) ApplyMutation(ctx context.Context, taskID string, m store.Mutation) (*models.Task, error) {
	before, err := a.store.Task(taskID)
	if err != nil {
		return nil, err
	}

	// The first action of a workflow opens a session under the current
	// connectivity mode; repeat starts are no-ops.
	a.sessions.StartSession(taskID, before.Status)

	task, op, err := a.store.ApplyMutation(taskID, m)
	if err != nil {
		return nil, err
	}

	if err := a.appendAudit(before, task, op, m); err != nil {
		log.Printf("⚠️ Failed to append audit entry for task %s: %v", taskID, err)
	}

	// Stable checkpoints end the session; an offline-started one flushes
	// through the tracker callback.
	a.sessions.CompleteSession(taskID, task.Status)

	if !a.sessions.ShouldUseOfflineMode(taskID) {
		a.engine.TriggerSync()
	} else {
		log.Printf("📴 Task %s: operation %d queued for later delivery", taskID, op.LocalSequence)
	}
	return task, nil
}

func (a *Agent) appendAudit(before, after *models.Task, op *models.Operation, m store.Mutation) error {
	oldVal, err := json.Marshal(map[string]interface{}{"status": before.Status, "paused": before.Paused})
	if err != nil {
		return err
	}
	newVal, err := json.Marshal(map[string]interface{}{"status": after.Status, "paused": after.Paused})
	if err != nil {
		return err
	}
	return a.store.AppendAudit(&models.AuditLogEntry{
		TaskID:            after.ID,
		OperatorID:        m.OperatorID,
		Action:            m.Action,
		OldValue:          datatypes.JSON(oldVal),
		NewValue:          datatypes.JSON(newVal),
		OperationSequence: op.LocalSequence,
	})
}

// ClaimTask fetches a pending task from the server and materializes it
// locally. Claims are online-only: an unclaimed task has no local aggregate
// to queue against.
func (a *Agent) ClaimTask(ctx context.Context, taskID, operatorID string) (*models.Task, error) {
	if !a.conn.IsOnline() {
		return nil, fmt.Errorf("cannot claim task %s: device is offline", taskID)
	}

	if _, err := a.store.Task(taskID); errors.Is(err, store.ErrNotFound) {
		snap, err := a.api.Task(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch task %s for claim: %w", taskID, err)
		}
		task, err := a.store.MaterializeRemote(snap)
		if err != nil {
			return nil, err
		}
		log.Printf("📥 Claimed task %s (server sequence %d)", task.ID, task.OperationSequence)
	} else if err != nil {
		return nil, err
	}

	return a.ApplyMutation(ctx, taskID, store.Mutation{
		Action:     models.ActionStartPicking,
		OperatorID: operatorID,
	})
}

// Task returns one local aggregate with its queue and checklist.
func (a *Agent) Task(taskID string) (*models.Task, error) {
	return a.store.Task(taskID)
}

// Tasks returns all local aggregates.
func (a *Agent) Tasks() ([]models.Task, error) {
	return a.store.Tasks()
}

// FetchPendingSync returns the aggregates with undelivered work, ordered for
// replay.
func (a *Agent) FetchPendingSync() ([]models.Task, error) {
	return a.store.FetchPendingSync()
}

// PendingConflicts returns unresolved escalated conflicts.
func (a *Agent) PendingConflicts() ([]models.TaskConflict, error) {
	return a.store.PendingConflicts()
}

// ResolveConflict records an operator's verdict on an escalated conflict and
// queues the task for priority resync.
func (a *Agent) ResolveConflict(taskID, resolvedBy string) error {
	if err := a.store.ResolveConflict(taskID, resolvedBy); err != nil {
		return err
	}
	a.engine.TriggerSync()
	return nil
}

// TriggerSync requests a sync cycle; concurrent requests coalesce.
func (a *Agent) TriggerSync() {
	a.engine.TriggerSync()
}

// SyncNow runs a full cycle synchronously and returns its result.
func (a *Agent) SyncNow(ctx context.Context) *syncengine.SyncResult {
	return a.engine.RunCycleNow(ctx)
}

// Status reports the persisted sync state plus live connectivity.
func (a *Agent) Status() (*models.SyncState, error) {
	state, err := a.store.SyncState()
	if err != nil {
		return nil, err
	}
	state.IsOnline = a.conn.IsOnline()
	return state, nil
}
