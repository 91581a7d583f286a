package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/waregrid/picksync/internal/config"
	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/remote"
	"github.com/waregrid/picksync/internal/store"
)

// fakeStore keeps task aggregates in memory and records the state
// transitions the engine asks for.
type fakeStore struct {
	mu             sync.Mutex
	tasks          map[string]*models.Task
	awaitingAck    []string
	revertedOps    []string
	failedAttempts []string
	rejectedOps    []string
	syncedOps      []string
	deletedTasks   []string
}

func newFakeStore(tasks ...*models.Task) *fakeStore {
	fs := &fakeStore{tasks: make(map[string]*models.Task)}
	for _, t := range tasks {
		fs.tasks[t.ID] = t
	}
	return fs
}

func (f *fakeStore) findOp(taskID, opID string) *models.Operation {
	task := f.tasks[taskID]
	if task == nil {
		return nil
	}
	for i := range task.Operations {
		if task.Operations[i].ID == opID {
			return &task.Operations[i]
		}
	}
	return nil
}

func (f *fakeStore) Task(taskID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeStore) Tasks() ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeStore) FetchPendingSync() ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if t.SyncStatus.NeedsPush() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteIfSynced(taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return false, nil
	}
	if task.HasPendingWork() {
		return false, nil
	}
	for i := range task.Operations {
		if task.Operations[i].Status == models.OperationStatusFailed {
			return false, nil
		}
	}
	delete(f.tasks, taskID)
	f.deletedTasks = append(f.deletedTasks, taskID)
	return true, nil
}

func (f *fakeStore) MaterializeRemote(snap *remote.TaskSnapshot) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := &models.Task{
		ID:         snap.ID,
		Status:     models.TaskStatus(snap.Status),
		SyncStatus: models.SyncStatusSynced,
	}
	f.tasks[snap.ID] = task
	return task, nil
}

func (f *fakeStore) ReplaceWithRemote(snap *remote.TaskSnapshot) error { return nil }
func (f *fakeStore) MarkDrift(taskID string) error                     { return nil }
func (f *fakeStore) MarkPriorityResync(taskID string) error            { return nil }
func (f *fakeStore) MarkConflict(taskID string, local *models.Task, snap *remote.TaskSnapshot, reason string) error {
	return nil
}

func (f *fakeStore) MarkOperationAwaitingAck(taskID, opID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op := f.findOp(taskID, opID); op != nil {
		op.Status = models.OperationStatusAwaitingAck
	}
	f.awaitingAck = append(f.awaitingAck, opID)
	return nil
}

func (f *fakeStore) MarkOperationPending(taskID, opID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op := f.findOp(taskID, opID); op != nil {
		op.Status = models.OperationStatusPending
	}
	f.revertedOps = append(f.revertedOps, opID)
	return nil
}

func (f *fakeStore) MarkOperationSynced(taskID, opID string, serverSequence int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op := f.findOp(taskID, opID); op != nil {
		op.Status = models.OperationStatusSynced
	}
	f.syncedOps = append(f.syncedOps, opID)
	return nil
}

func (f *fakeStore) MarkOperationFailedAttempt(taskID, opID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedAttempts = append(f.failedAttempts, opID)
	op := f.findOp(taskID, opID)
	if op == nil {
		return false, nil
	}
	op.RetryCount++
	if op.RetryCount >= models.MaxOperationRetries {
		op.Status = models.OperationStatusFailed
		return true, nil
	}
	op.Status = models.OperationStatusPending
	return false, nil
}

func (f *fakeStore) MarkOperationRejected(taskID, opID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op := f.findOp(taskID, opID); op != nil {
		op.Status = models.OperationStatusFailed
	}
	f.rejectedOps = append(f.rejectedOps, opID)
	return nil
}

func (f *fakeStore) FetchPendingAudits() ([]models.AuditLogEntry, error) { return nil, nil }
func (f *fakeStore) MarkAuditsAwaitingAck(entryIDs []string) error      { return nil }
func (f *fakeStore) MarkAuditsSynced(entryIDs []string) error           { return nil }
func (f *fakeStore) MarkAuditsPending(entryIDs []string) error          { return nil }
func (f *fakeStore) RecordSyncOutcome(fullSync bool, lastErr error) error {
	return nil
}
func (f *fakeStore) PendingCounts() (int, int, error) { return 0, 0, nil }

// fakeAPI records sends and lets a test script the backend's answer.
type fakeAPI struct {
	mu          sync.Mutex
	sentActions []string
	actionFn    func(ctx context.Context, req remote.ActionRequest) (*remote.TaskSnapshot, error)
}

func (f *fakeAPI) Dashboard(ctx context.Context) (*remote.DashboardResponse, error) {
	return &remote.DashboardResponse{}, nil
}

func (f *fakeAPI) Task(ctx context.Context, taskID string) (*remote.TaskSnapshot, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) PostAction(ctx context.Context, req remote.ActionRequest) (*remote.TaskSnapshot, error) {
	f.mu.Lock()
	f.sentActions = append(f.sentActions, req.Action)
	f.mu.Unlock()
	if f.actionFn != nil {
		return f.actionFn(ctx, req)
	}
	return &remote.TaskSnapshot{ID: req.TaskID}, nil
}

func (f *fakeAPI) UpdateChecklist(ctx context.Context, taskID string, req remote.ChecklistUpdateRequest) (*remote.TaskSnapshot, error) {
	f.mu.Lock()
	f.sentActions = append(f.sentActions, string(models.ActionUpdateChecklist))
	f.mu.Unlock()
	return &remote.TaskSnapshot{ID: taskID}, nil
}

func (f *fakeAPI) SyncAuditLogs(ctx context.Context, batch []remote.AuditEntryPayload) ([]remote.AuditSyncResult, error) {
	return nil, nil
}

func queuedTask(id string, ops int) *models.Task {
	queue := make([]models.Operation, ops)
	for i := range queue {
		queue[i] = models.Operation{
			ID:            fmt.Sprintf("%s-op-%d", id, i+1),
			TaskID:        id,
			Action:        models.ActionStartPicking,
			LocalSequence: int64(i + 1),
			Status:        models.OperationStatusPending,
		}
	}
	return &models.Task{
		ID:         id,
		Status:     models.TaskStatusPicking,
		SyncStatus: models.SyncStatusPendingSync,
		Operations: queue,
	}
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Enabled:         true,
		MaxRetries:      3,
		RetryBaseDelay:  1,
		RetryMaxDelay:   4,
		ParallelWorkers: 2,
	}
}

func TestOrderTasksForPush_PriorityResyncFirst(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", Status: models.TaskStatusPicking, SyncStatus: models.SyncStatusPendingSync},
		{ID: "b", Status: models.TaskStatusPicking, SyncStatus: models.SyncStatusPendingPrioritySync},
		{ID: "c", Status: models.TaskStatusPicking, SyncStatus: models.SyncStatusPendingSync},
		{ID: "d", Status: models.TaskStatusPacked, SyncStatus: models.SyncStatusPendingPrioritySync},
	}

	orderTasksForPush(tasks, false)

	if tasks[0].ID != "b" || tasks[1].ID != "d" {
		t.Errorf("Priority resync tasks must lead; got order %s,%s,%s,%s",
			tasks[0].ID, tasks[1].ID, tasks[2].ID, tasks[3].ID)
	}
	// The sort is stable: equal ranks keep their fetch order.
	if tasks[2].ID != "a" || tasks[3].ID != "c" {
		t.Errorf("Equal-rank tasks must keep order; got %s,%s", tasks[2].ID, tasks[3].ID)
	}
}

func TestOrderTasksForPush_TerminalFirstInBackgroundWindow(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", Status: models.TaskStatusPicking, SyncStatus: models.SyncStatusPendingPrioritySync},
		{ID: "b", Status: models.TaskStatusCompleted, SyncStatus: models.SyncStatusPendingSync},
		{ID: "c", Status: models.TaskStatusPicking, SyncStatus: models.SyncStatusPendingSync},
		{ID: "d", Status: models.TaskStatusCancelled, SyncStatus: models.SyncStatusPendingSync},
	}

	orderTasksForPush(tasks, true)

	if tasks[0].ID != "b" || tasks[1].ID != "d" {
		t.Errorf("Terminal tasks must lead in a background window; got %s,%s",
			tasks[0].ID, tasks[1].ID)
	}
	if tasks[2].ID != "a" {
		t.Errorf("Priority resync follows terminal tasks; got %s", tasks[2].ID)
	}
}

func TestTriggerSync_CoalescesWhileIdle(t *testing.T) {
	e := NewEngine(nil, nil, nil, testSyncConfig(), nil)

	// Repeated triggers on an idle engine occupy at most one queue slot.
	e.TriggerSync()
	e.TriggerSync()
	e.TriggerSync()

	if len(e.syncChan) != 1 {
		t.Errorf("Expected exactly one queued trigger, got %d", len(e.syncChan))
	}
}

func TestTriggerSync_LatchesRerunWhileSyncing(t *testing.T) {
	e := NewEngine(nil, nil, nil, testSyncConfig(), nil)

	e.mu.Lock()
	e.isSyncing = true
	e.mu.Unlock()

	e.TriggerSync()
	e.TriggerSync()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rerun {
		t.Error("Trigger during a running cycle must latch a rerun")
	}
	if len(e.syncChan) != 0 {
		t.Errorf("Latched triggers must not also queue, got %d", len(e.syncChan))
	}
}

func TestPushTaskStopsReplayAfterFailedSend(t *testing.T) {
	task := queuedTask("task-1", 3)
	st := newFakeStore(task)
	api := &fakeAPI{actionFn: func(ctx context.Context, req remote.ActionRequest) (*remote.TaskSnapshot, error) {
		return nil, errors.New("backend unreachable")
	}}
	cfg := testSyncConfig()
	cfg.MaxRetries = 1
	e := NewEngine(st, api, nil, cfg, nil)

	pushed, failed, err := e.pushTask(context.Background(), task)

	if pushed != 0 || failed != 1 {
		t.Fatalf("Expected 0 pushed and 1 failed, got %d and %d", pushed, failed)
	}
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected retry exhaustion, got %v", err)
	}
	if len(api.sentActions) != 1 {
		t.Errorf("A later operation must never reach the server while an earlier one is unsynced; got %d sends", len(api.sentActions))
	}
	if got := st.failedAttempts; len(got) != 1 || got[0] != "task-1-op-1" {
		t.Errorf("Only the first operation takes the failed attempt, got %v", got)
	}
	for _, opID := range []string{"task-1-op-2", "task-1-op-3"} {
		if op := st.findOp("task-1", opID); op.Status != models.OperationStatusPending {
			t.Errorf("Operation %s must stay pending after the halt, got %s", opID, op.Status)
		}
	}
}

func TestReconcileKeepsTasksWithUnsyncedWork(t *testing.T) {
	synced := &models.Task{ID: "done-1", Status: models.TaskStatusCompleted, SyncStatus: models.SyncStatusSynced}
	pending := queuedTask("task-1", 1)
	st := newFakeStore(synced, pending)
	e := NewEngine(st, &fakeAPI{}, nil, testSyncConfig(), nil)

	result := &SyncResult{}
	// Neither task appears in the remote set.
	if err := e.reconcile(context.Background(), map[string]bool{}, result); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if result.TasksDeleted != 1 || result.TasksKept != 1 {
		t.Fatalf("Expected 1 deleted and 1 kept, got %d and %d", result.TasksDeleted, result.TasksKept)
	}
	if _, err := st.Task("task-1"); err != nil {
		t.Error("A task with queued operations must survive reconciliation")
	}
	if _, err := st.Task("done-1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("A fully synced task absent from the remote set must be deleted")
	}
}

func TestPushTaskClosedWindowLeavesOperationPending(t *testing.T) {
	task := queuedTask("task-1", 1)
	st := newFakeStore(task)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sendCtxErr error
	api := &fakeAPI{actionFn: func(sendCtx context.Context, req remote.ActionRequest) (*remote.TaskSnapshot, error) {
		// The execution window closes while this send is in flight.
		cancel()
		sendCtxErr = sendCtx.Err()
		return nil, errors.New("link dropped")
	}}

	e := NewEngine(st, api, nil, testSyncConfig(), nil)

	pushed, failed, err := e.pushTask(ctx, task)

	if err != nil {
		t.Fatalf("A closed window is not a push error: %v", err)
	}
	if pushed != 0 || failed != 0 {
		t.Fatalf("Expected no verdicts, got pushed=%d failed=%d", pushed, failed)
	}
	if sendCtxErr != nil {
		t.Error("An in-flight send must not be aborted by the window closing")
	}
	op := st.findOp("task-1", "task-1-op-1")
	if op.Status != models.OperationStatusPending {
		t.Errorf("Operation must revert to pending, got %s", op.Status)
	}
	if op.RetryCount != 0 {
		t.Errorf("A closed window must not count toward permanent failure, got retry count %d", op.RetryCount)
	}
	if len(st.failedAttempts) != 0 {
		t.Errorf("No failed attempt may be recorded, got %v", st.failedAttempts)
	}
	if got := st.revertedOps; len(got) != 1 || got[0] != "task-1-op-1" {
		t.Errorf("Expected one reverted operation, got %v", got)
	}
}
