package sync

import (
	"testing"
	"time"

	"github.com/waregrid/picksync/internal/models"
	"github.com/waregrid/picksync/internal/remote"
)

func pendingOps(n int) []models.Operation {
	ops := make([]models.Operation, n)
	for i := range ops {
		ops[i] = models.Operation{
			ID:            "op-" + string(rune('a'+i)),
			Action:        models.ActionUpdateChecklist,
			LocalSequence: int64(i + 1),
			Status:        models.OperationStatusPending,
		}
	}
	return ops
}

func TestResolve_SyncedLocalAlwaysLosesToRemote(t *testing.T) {
	cr := NewConflictResolver()

	local := &models.Task{
		ID:                "task-1",
		OperationSequence: 9,
		SyncStatus:        models.SyncStatusSynced,
		LocalModifiedAt:   time.Now(),
	}
	// Remote is behind on sequence and older by timestamp; a clean local
	// copy still yields to it.
	snap := &remote.TaskSnapshot{
		ID:                "task-1",
		OperationSequence: 5,
		LastModifiedAt:    time.Now().Add(-time.Hour),
	}

	d := cr.Resolve(local, snap)
	if d.Outcome != OutcomeUseRemote {
		t.Errorf("Expected use_remote for synced local, got %s (%s)", d.Outcome, d.Reason)
	}
}

func TestResolve_HigherSequenceWins(t *testing.T) {
	cr := NewConflictResolver()

	local := &models.Task{
		ID:                "task-1",
		OperationSequence: 7,
		SyncStatus:        models.SyncStatusPendingSync,
		Operations:        pendingOps(2),
	}

	snap := &remote.TaskSnapshot{ID: "task-1", OperationSequence: 5}
	if d := cr.Resolve(local, snap); d.Outcome != OutcomeUseLocal {
		t.Errorf("Local ahead: expected use_local, got %s (%s)", d.Outcome, d.Reason)
	}

	snap = &remote.TaskSnapshot{ID: "task-1", OperationSequence: 12}
	if d := cr.Resolve(local, snap); d.Outcome != OutcomeUseRemote {
		t.Errorf("Remote ahead: expected use_remote, got %s (%s)", d.Outcome, d.Reason)
	}
}

func TestResolve_DriftRemoteAdvancedPastPending(t *testing.T) {
	cr := NewConflictResolver()

	// Remote advanced 3 past the last ack but only 1 local operation is
	// pending: another device must have mutated this task.
	local := &models.Task{
		ID:                      "task-1",
		OperationSequence:       8,
		LastKnownServerSequence: 5,
		SyncStatus:              models.SyncStatusPendingSyncWithDrift,
		Operations:              pendingOps(1),
	}
	snap := &remote.TaskSnapshot{ID: "task-1", OperationSequence: 8}

	d := cr.Resolve(local, snap)
	if d.Outcome != OutcomeUseRemote {
		t.Errorf("Expected use_remote, got %s (%s)", d.Outcome, d.Reason)
	}
}

func TestResolve_DriftExplainedByPendingKeepsLocal(t *testing.T) {
	cr := NewConflictResolver()

	local := &models.Task{
		ID:                      "task-1",
		OperationSequence:       8,
		LastKnownServerSequence: 6,
		SyncStatus:              models.SyncStatusPendingSyncWithDrift,
		Operations:              pendingOps(3),
	}
	snap := &remote.TaskSnapshot{ID: "task-1", OperationSequence: 8}

	d := cr.Resolve(local, snap)
	if d.Outcome != OutcomeUseLocal {
		t.Fatalf("Expected use_local, got %s (%s)", d.Outcome, d.Reason)
	}
	if !d.PriorityResync {
		t.Error("Drifted local win should request priority resync")
	}
}

func TestResolve_DriftRegressedSequenceEscalates(t *testing.T) {
	cr := NewConflictResolver()

	local := &models.Task{
		ID:                      "task-1",
		OperationSequence:       8,
		LastKnownServerSequence: 10,
		SyncStatus:              models.SyncStatusPendingSyncWithDrift,
		Operations:              pendingOps(1),
	}
	snap := &remote.TaskSnapshot{ID: "task-1", OperationSequence: 8}

	d := cr.Resolve(local, snap)
	if d.Outcome != OutcomeEscalate {
		t.Errorf("Expected escalate, got %s (%s)", d.Outcome, d.Reason)
	}
}

func TestResolve_EqualSequenceTimestampTie(t *testing.T) {
	cr := NewConflictResolver()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mk := func(localAt, remoteAt time.Time) (*models.Task, *remote.TaskSnapshot) {
		return &models.Task{
				ID:                "task-1",
				OperationSequence: 4,
				SyncStatus:        models.SyncStatusPendingSync,
				LocalModifiedAt:   localAt,
				Operations:        pendingOps(1),
			}, &remote.TaskSnapshot{
				ID:                "task-1",
				OperationSequence: 4,
				LastModifiedAt:    remoteAt,
			}
	}

	// Within 60s of each other: too close to infer intent.
	local, snap := mk(base, base.Add(30*time.Second))
	if d := cr.Resolve(local, snap); d.Outcome != OutcomeEscalate {
		t.Errorf("30s apart: expected escalate, got %s (%s)", d.Outcome, d.Reason)
	}

	// Exactly at the window boundary still escalates.
	local, snap = mk(base, base.Add(simultaneousWindow))
	if d := cr.Resolve(local, snap); d.Outcome != OutcomeEscalate {
		t.Errorf("60s apart: expected escalate, got %s (%s)", d.Outcome, d.Reason)
	}

	// Clearly newer local wins.
	local, snap = mk(base.Add(10*time.Minute), base)
	if d := cr.Resolve(local, snap); d.Outcome != OutcomeUseLocal {
		t.Errorf("Local newer: expected use_local, got %s (%s)", d.Outcome, d.Reason)
	}

	// Clearly newer remote wins.
	local, snap = mk(base, base.Add(10*time.Minute))
	if d := cr.Resolve(local, snap); d.Outcome != OutcomeUseRemote {
		t.Errorf("Remote newer: expected use_remote, got %s (%s)", d.Outcome, d.Reason)
	}
}

func TestDetectDrift(t *testing.T) {
	local := &models.Task{
		ID:                      "task-1",
		OperationSequence:       8,
		LastKnownServerSequence: 5,
		SyncStatus:              models.SyncStatusPendingSync,
		Operations:              pendingOps(1),
	}
	snap := &remote.TaskSnapshot{ID: "task-1", OperationSequence: 8}

	// Remote advanced 3, only 1 pending op explains it.
	if !DetectDrift(local, snap) {
		t.Error("Expected drift when remote advancement exceeds pending count")
	}

	// 3 pending ops fully explain the advancement.
	local.Operations = pendingOps(3)
	if DetectDrift(local, snap) {
		t.Error("Expected no drift when pending count matches remote advancement")
	}

	// Remote advanced less than the queue explains: not drift either, the
	// timestamp comparison decides those.
	local.Operations = pendingOps(5)
	if DetectDrift(local, snap) {
		t.Error("Expected no drift when pending count exceeds remote advancement")
	}

	// Remote sequence moved backwards: flagged so resolution escalates.
	local.Operations = pendingOps(1)
	local.LastKnownServerSequence = 9
	if !DetectDrift(local, snap) {
		t.Error("Expected drift flag for backwards remote advancement")
	}
	local.LastKnownServerSequence = 5
	local.Operations = pendingOps(3)

	// Unequal sequences are resolved by sequence, not drift.
	snap.OperationSequence = 9
	if DetectDrift(local, snap) {
		t.Error("Expected no drift for unequal sequences")
	}

	// A fully synced task never drifts.
	snap.OperationSequence = 8
	local.SyncStatus = models.SyncStatusSynced
	if DetectDrift(local, snap) {
		t.Error("Expected no drift for a synced task")
	}
}
