package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/waregrid/picksync/internal/config"
	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/remote"
	"github.com/waregrid/picksync/internal/store"
	"github.com/waregrid/picksync/internal/utils"
)

// RemoteAPI is the slice of the backend the orchestrator needs. Satisfied by
// *remote.Client.
type RemoteAPI interface {
	Dashboard(ctx context.Context) (*remote.DashboardResponse, error)
	Task(ctx context.Context, taskID string) (*remote.TaskSnapshot, error)
	PostAction(ctx context.Context, req remote.ActionRequest) (*remote.TaskSnapshot, error)
	UpdateChecklist(ctx context.Context, taskID string, req remote.ChecklistUpdateRequest) (*remote.TaskSnapshot, error)
	SyncAuditLogs(ctx context.Context, batch []remote.AuditEntryPayload) ([]remote.AuditSyncResult, error)
}

// TaskStore is the slice of the local store the orchestrator needs.
// Satisfied by *store.Store.
type TaskStore interface {
	Task(taskID string) (*models.Task, error)
	Tasks() ([]models.Task, error)
	FetchPendingSync() ([]models.Task, error)
	DeleteIfSynced(taskID string) (bool, error)

	MaterializeRemote(snap *remote.TaskSnapshot) (*models.Task, error)
	ReplaceWithRemote(snap *remote.TaskSnapshot) error
	MarkDrift(taskID string) error
	MarkPriorityResync(taskID string) error
	MarkConflict(taskID string, local *models.Task, snap *remote.TaskSnapshot, reason string) error

	MarkOperationAwaitingAck(taskID, opID string) error
	MarkOperationPending(taskID, opID string) error
	MarkOperationSynced(taskID, opID string, serverSequence int64) error
	MarkOperationFailedAttempt(taskID, opID string) (permanentlyFailed bool, err error)
	MarkOperationRejected(taskID, opID string) error

	FetchPendingAudits() ([]models.AuditLogEntry, error)
	MarkAuditsAwaitingAck(entryIDs []string) error
	MarkAuditsSynced(entryIDs []string) error
	MarkAuditsPending(entryIDs []string) error

	RecordSyncOutcome(fullSync bool, lastErr error) error
	PendingCounts() (tasks int, audits int, err error)
}

// windowLimits caps an abbreviated cycle run inside an OS background window.
type windowLimits struct {
	pullLimit     int
	pushLimit     int
	terminalFirst bool
}

// Engine coordinates pull (fetch, merge, reconcile) then push (ordered
// replay with retry) on every sync cycle. A single isSyncing flag prevents
// concurrent cycles; a trigger received mid-cycle is coalesced into at most
// one follow-up cycle.
type Engine struct {
	mu sync.Mutex

	store    TaskStore
	api      RemoteAPI
	conn     *ConnectionManager
	cfg      *config.SyncConfig
	resolver *ConflictResolver
	events   EventSink

	isRunning bool
	isSyncing bool
	rerun     bool
	lastSync  time.Time

	stopChan chan struct{}
	syncChan chan struct{}
}

// NewEngine creates a sync orchestrator. All collaborators are injected;
// the engine never reaches for ambient globals.
func NewEngine(st TaskStore, api RemoteAPI, conn *ConnectionManager, cfg *config.SyncConfig, events EventSink) *Engine {
	if events == nil {
		events = nopSink{}
	}
	return &Engine{
		store:    st,
		api:      api,
		conn:     conn,
		cfg:      cfg,
		resolver: NewConflictResolver(),
		events:   events,
		stopChan: make(chan struct{}),
		syncChan: make(chan struct{}, 1),
	}
}

// Start launches the sync worker.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("sync engine already running")
	}
	e.isRunning = true

	log.Println("🔄 Sync Engine starting...")
	go e.syncWorker()

	if e.cfg.SyncOnStartup {
		e.TriggerSync()
	}

	log.Println("✅ Sync Engine started")
	return nil
}

// Stop stops the sync worker.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return
	}
	e.isRunning = false
	close(e.stopChan)
	log.Println("🛑 Sync Engine stopped")
}

// TriggerSync requests a sync cycle. Non-blocking: while a cycle is running
// at most one follow-up is latched, never an unbounded queue.
func (e *Engine) TriggerSync() {
	e.mu.Lock()
	if e.isSyncing {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	select {
	case e.syncChan <- struct{}{}:
	default:
	}
}

// LastSync returns when the last cycle finished.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// IsSyncing reports whether a cycle is in flight.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSyncing
}

func (e *Engine) syncWorker() {
	for {
		select {
		case <-e.syncChan:
			e.runGuarded(context.Background(), nil)
		case <-e.stopChan:
			return
		}
	}
}

// runGuarded runs one cycle under the isSyncing flag, then at most one
// coalesced follow-up.
func (e *Engine) runGuarded(ctx context.Context, limits *windowLimits) *SyncResult {
	e.mu.Lock()
	if e.isSyncing {
		e.rerun = true
		e.mu.Unlock()
		return nil
	}
	e.isSyncing = true
	e.mu.Unlock()

	result := e.runCycle(ctx, limits)

	e.mu.Lock()
	e.isSyncing = false
	e.lastSync = time.Now()
	again := e.rerun
	e.rerun = false
	e.mu.Unlock()

	if again {
		select {
		case e.syncChan <- struct{}{}:
		default:
		}
	}
	return result
}

// RunCycleNow runs a full cycle synchronously. Used by callers that need the
// result (tests, the background window path); normal triggers go through
// TriggerSync.
func (e *Engine) RunCycleNow(ctx context.Context) *SyncResult {
	return e.runGuarded(ctx, nil)
}

// RunBackgroundWindow runs an abbreviated cycle inside a bounded OS execution
// window: a capped pull merge and only the highest-priority push items,
// checking cancellation at every item boundary.
func (e *Engine) RunBackgroundWindow(ctx context.Context) *SyncResult {
	return e.runGuarded(ctx, &windowLimits{
		pullLimit:     e.cfg.BackgroundPullLimit,
		pushLimit:     e.cfg.BackgroundPushLimit,
		terminalFirst: true,
	})
}

// runCycle performs pull then push back-to-back.
func (e *Engine) runCycle(ctx context.Context, limits *windowLimits) *SyncResult {
	result := &SyncResult{Success: true, Timestamp: time.Now()}

	if e.conn != nil && !e.conn.IsOnline() {
		log.Println("📴 Sync cycle skipped: offline")
		result.Success = false
		result.Errors = append(result.Errors, errors.New("device offline"))
		return result
	}

	log.Println("🔄 Sync cycle: pull phase")
	if err := e.pullPhase(ctx, result, limits); err != nil {
		// A failed pull is not fatal for the push: queued work still drains.
		log.Printf("⚠️ Pull phase error: %v", err)
		result.Errors = append(result.Errors, err)
		result.Success = false
	}

	log.Println("🔄 Sync cycle: push phase")
	e.pushPhase(ctx, result, limits)

	result.Duration = time.Since(result.Timestamp)
	if len(result.Errors) > 0 {
		result.Success = false
	}

	var lastErr error
	if len(result.Errors) > 0 {
		lastErr = result.Errors[len(result.Errors)-1]
	}
	if err := e.store.RecordSyncOutcome(limits == nil, lastErr); err != nil {
		log.Printf("⚠️ Failed to record sync state: %v", err)
	}

	pendingTasks, pendingAudits, _ := e.store.PendingCounts()
	e.events.Publish(Event{Type: EventCycleComplete, Payload: result})
	e.events.Publish(Event{Type: EventPendingCount, Payload: map[string]int{
		"tasks": pendingTasks, "audits": pendingAudits,
	}})

	log.Printf("✅ Sync cycle done in %v: pulled=%d merged=%d pushed=%d conflicts=%d errors=%d",
		result.Duration, result.TasksPulled, result.TasksMerged, result.OpsPushed,
		result.ConflictsFound, len(result.Errors))
	return result
}

// pullPhase fetches the remote snapshot set, merges each snapshot through the
// conflict resolver, then reconciles local tasks the remote no longer
// reports.
func (e *Engine) pullPhase(ctx context.Context, result *SyncResult, limits *windowLimits) error {
	dashboard, err := e.api.Dashboard(ctx)
	if err != nil {
		return fmt.Errorf("dashboard fetch failed: %w", err)
	}

	snapshots := dashboard.AllTasks()
	result.TasksPulled = len(snapshots)

	remoteIDs := make(map[string]bool, len(snapshots))
	merged := 0
	for i := range snapshots {
		snap := &snapshots[i]
		remoteIDs[snap.ID] = true

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if limits != nil && limits.pullLimit > 0 && merged >= limits.pullLimit {
			continue // budgeted window: still collect ids for reconciliation
		}

		if err := e.mergeSnapshot(ctx, snap, result); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		merged++
	}
	result.TasksMerged = merged

	return e.reconcile(ctx, remoteIDs, result)
}

// mergeSnapshot applies the resolver's decision for one remote snapshot.
func (e *Engine) mergeSnapshot(ctx context.Context, snap *remote.TaskSnapshot, result *SyncResult) error {
	local, err := e.store.Task(snap.ID)
	if errors.Is(err, store.ErrNotFound) {
		if _, err := e.store.MaterializeRemote(snap); err != nil {
			return err
		}
		log.Printf("📥 New task %s materialized from remote", snap.ID)
		return nil
	}
	if err != nil {
		return err
	}

	// Flag sequence drift before resolving so the resolver's drift branch
	// sees it, this cycle and the next.
	if DetectDrift(local, snap) && local.SyncStatus != models.SyncStatusPendingSyncWithDrift {
		if err := e.store.MarkDrift(local.ID); err != nil {
			return err
		}
		local.SyncStatus = models.SyncStatusPendingSyncWithDrift
	}

	decision := e.resolver.Resolve(local, snap)
	switch decision.Outcome {
	case OutcomeUseRemote:
		log.Printf("📥 Task %s: remote wins (%s)", snap.ID, decision.Reason)
		return e.store.ReplaceWithRemote(snap)

	case OutcomeUseLocal:
		log.Printf("📤 Task %s: local wins (%s)", snap.ID, decision.Reason)
		return e.store.MarkPriorityResync(local.ID)

	case OutcomeEscalate:
		log.Printf("⚠️ Task %s: conflict escalated (%s)", snap.ID, decision.Reason)
		result.ConflictsFound++
		e.events.Publish(Event{Type: EventConflict, Payload: map[string]string{
			"taskId": snap.ID, "reason": decision.Reason,
		}})
		return e.store.MarkConflict(local.ID, local, snap, decision.Reason)
	}
	return nil
}

// reconcile deletes local tasks absent from the remote set, keeping anything
// with unsynced work. Deletion is only safe when there is nothing left to
// lose.
func (e *Engine) reconcile(ctx context.Context, remoteIDs map[string]bool, result *SyncResult) error {
	locals, err := e.store.Tasks()
	if err != nil {
		return err
	}

	for i := range locals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if remoteIDs[locals[i].ID] {
			continue
		}
		deleted, err := e.store.DeleteIfSynced(locals[i].ID)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if deleted {
			result.TasksDeleted++
		} else {
			result.TasksKept++
		}
	}
	return nil
}

// pushPhase replays queued operations and audit entries. Distinct tasks sync
// concurrently under a bounded worker set; operations within one task stay
// strictly sequential. One item's exhaustion never aborts the rest.
func (e *Engine) pushPhase(ctx context.Context, result *SyncResult, limits *windowLimits) {
	tasks, err := e.store.FetchPendingSync()
	if err != nil {
		result.Errors = append(result.Errors, err)
		return
	}

	orderTasksForPush(tasks, limits != nil && limits.terminalFirst)
	if limits != nil && limits.pushLimit > 0 && len(tasks) > limits.pushLimit {
		tasks = tasks[:limits.pushLimit]
	}

	workers := e.cfg.ParallelWorkers
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	var resMu sync.Mutex

	for i := range tasks {
		if ctx.Err() != nil {
			break
		}
		task := tasks[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			pushed, failed, err := e.pushTask(ctx, &task)
			resMu.Lock()
			result.OpsPushed += pushed
			result.OpsFailed += failed
			if err != nil {
				result.Errors = append(result.Errors, err)
			}
			resMu.Unlock()
		}()
	}

	// Audit entries sync concurrently with tasks, as their own push item.
	wg.Add(1)
	go func() {
		defer wg.Done()
		pushed, err := e.pushAudits(ctx)
		resMu.Lock()
		result.AuditsPushed += pushed
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
		resMu.Unlock()
	}()

	wg.Wait()
}

// pushTask replays one task's queue in LocalSequence order. A failed send
// stops the task's replay for this cycle: a later operation must never reach
// the server before an earlier one succeeds.
func (e *Engine) pushTask(ctx context.Context, task *models.Task) (pushed int, failed int, err error) {
	policy := e.retryPolicy()

	// The window budget gates item starts and backoff waits, never an
	// in-flight network call: a send that already left the device runs to
	// its own timeout.
	sendCtx := context.WithoutCancel(ctx)

	for i := range task.Operations {
		op := &task.Operations[i]
		if op.Status == models.OperationStatusSynced || op.Status == models.OperationStatusFailed {
			continue
		}
		if ctx.Err() != nil {
			return pushed, failed, nil
		}

		if err := e.store.MarkOperationAwaitingAck(task.ID, op.ID); err != nil {
			return pushed, failed, err
		}

		var snap *remote.TaskSnapshot
		sendErr := withRetry(ctx, policy, task.ID, string(op.Action), func() error {
			var err error
			snap, err = e.sendOperation(sendCtx, task, op)
			return err
		})

		if sendErr != nil {
			// A closed window is not a delivery verdict. The operation
			// goes back to Pending at full retry count and the cycle ends.
			if cerr := ctx.Err(); cerr != nil && errors.Is(sendErr, cerr) {
				if err := e.store.MarkOperationPending(task.ID, op.ID); err != nil {
					return pushed, failed, err
				}
				return pushed, failed, nil
			}
			failed++
			if remote.IsRejection(sendErr) {
				log.Printf("🔴 Task %s: operation %s rejected by server: %v", task.ID, op.Action, sendErr)
				if err := e.store.MarkOperationRejected(task.ID, op.ID); err != nil {
					return pushed, failed, err
				}
			} else {
				if _, err := e.store.MarkOperationFailedAttempt(task.ID, op.ID); err != nil {
					return pushed, failed, err
				}
			}
			// Preserve per-task ordering: stop replaying this queue.
			return pushed, failed, sendErr
		}

		serverSeq := int64(0)
		if snap != nil {
			serverSeq = snap.OperationSequence
		}
		if err := e.store.MarkOperationSynced(task.ID, op.ID, serverSeq); err != nil {
			return pushed, failed, err
		}
		pushed++
	}

	return pushed, failed, e.finishTask(task.ID)
}

// finishTask releases terminal and pause-transferred aggregates once their
// queue has fully drained, returning ownership to the remote store.
func (e *Engine) finishTask(taskID string) error {
	task, err := e.store.Task(taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if (task.Status.IsTerminal() || task.Paused) && !task.HasPendingWork() {
		if _, err := e.store.DeleteIfSynced(taskID); err != nil {
			return err
		}
	}
	return nil
}

// sendOperation delivers one operation to the remote API.
func (e *Engine) sendOperation(ctx context.Context, task *models.Task, op *models.Operation) (*remote.TaskSnapshot, error) {
	if op.Action == models.ActionUpdateChecklist {
		return e.api.UpdateChecklist(ctx, task.ID, remote.ChecklistUpdateRequest{
			ChecklistJSON: string(op.Payload),
			OperatorID:    op.OperatorID,
		})
	}

	return e.api.PostAction(ctx, remote.ActionRequest{
		TaskID:     task.ID,
		Action:     string(op.Action),
		OperatorID: op.OperatorID,
		Payload:    utils.DecodeObjectOrEmpty(op.Payload, "operation payload"),
	})
}

// pushAudits delivers pending audit entries as one batch.
func (e *Engine) pushAudits(ctx context.Context) (int, error) {
	entries, err := e.store.FetchPendingAudits()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	batch := make([]remote.AuditEntryPayload, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		batch = append(batch, remote.AuditEntryPayload{
			EntryID:           entry.EntryID,
			Timestamp:         entry.CreatedAt.UTC().Format(time.RFC3339),
			ActionType:        string(entry.Action),
			StaffID:           entry.OperatorID,
			TaskID:            entry.TaskID,
			OperationSequence: entry.OperationSequence,
			OldValue:          string(entry.OldValue),
			NewValue:          string(entry.NewValue),
			Details:           entry.Details,
		})
		ids = append(ids, entry.EntryID)
	}

	if err := e.store.MarkAuditsAwaitingAck(ids); err != nil {
		return 0, err
	}

	var results []remote.AuditSyncResult
	sendErr := withRetry(ctx, e.retryPolicy(), "", "audit batch", func() error {
		var err error
		results, err = e.api.SyncAuditLogs(ctx, batch)
		return err
	})
	if sendErr != nil {
		if err := e.store.MarkAuditsPending(ids); err != nil {
			return 0, err
		}
		return 0, sendErr
	}

	var synced, retry []string
	for _, res := range results {
		if res.Synced {
			synced = append(synced, res.EntryID)
		} else {
			log.Printf("⚠️ Audit entry %s not accepted: %s", res.EntryID, res.Error)
			retry = append(retry, res.EntryID)
		}
	}
	if err := e.store.MarkAuditsSynced(synced); err != nil {
		return len(synced), err
	}
	if err := e.store.MarkAuditsPending(retry); err != nil {
		return len(synced), err
	}
	return len(synced), nil
}

func (e *Engine) retryPolicy() retryPolicy {
	p := retryPolicy{
		maxAttempts: e.cfg.MaxRetries,
		baseDelay:   time.Duration(e.cfg.RetryBaseDelay) * time.Second,
		maxDelay:    time.Duration(e.cfg.RetryMaxDelay) * time.Second,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 2 * time.Second
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 30 * time.Second
	}
	return p
}

// orderTasksForPush sorts priority resyncs ahead of the rest; inside a
// background window, terminal-status tasks go first so ownership returns to
// the remote before the budget expires.
func orderTasksForPush(tasks []models.Task, terminalFirst bool) {
	rank := func(t *models.Task) int {
		r := 2
		if t.SyncStatus == models.SyncStatusPendingPrioritySync {
			r = 1
		}
		if terminalFirst && t.Status.IsTerminal() {
			r = 0
		}
		return r
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return rank(&tasks[i]) < rank(&tasks[j])
	})
}
