package models

import (
	"testing"
)

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []TaskStatus{
		TaskStatusPending, TaskStatusPicking, TaskStatusPacked,
		TaskStatusInspecting, TaskStatusCorrectionNeeded, TaskStatusCorrecting,
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTaskStatus_IsStableCheckpoint(t *testing.T) {
	stable := []TaskStatus{
		TaskStatusPending, TaskStatusPacked, TaskStatusCompleted, TaskStatusCancelled,
	}
	for _, s := range stable {
		if !s.IsStableCheckpoint() {
			t.Errorf("%s should be a stable checkpoint", s)
		}
	}

	// Mid-workflow statuses keep an operation session open.
	unstable := []TaskStatus{
		TaskStatusPicking, TaskStatusInspecting, TaskStatusCorrectionNeeded, TaskStatusCorrecting,
	}
	for _, s := range unstable {
		if s.IsStableCheckpoint() {
			t.Errorf("%s should not be a stable checkpoint", s)
		}
	}
}

func TestSyncStatus_NeedsPush(t *testing.T) {
	needing := []SyncStatus{
		SyncStatusPendingSync, SyncStatusPendingPrioritySync,
		SyncStatusPausedPendingSync, SyncStatusPendingSyncWithDrift,
	}
	for _, s := range needing {
		if !s.NeedsPush() {
			t.Errorf("%s should need a push", s)
		}
	}

	if SyncStatusSynced.NeedsPush() {
		t.Error("synced should not need a push")
	}
	// An escalated conflict is frozen until an operator resolves it.
	if SyncStatusConflictPending.NeedsPush() {
		t.Error("conflict_pending_resolution should not push until resolved")
	}
}

func TestTask_PendingOperations(t *testing.T) {
	task := Task{
		ID: "task-1",
		Operations: []Operation{
			{ID: "op-1", LocalSequence: 1, Status: OperationStatusSynced},
			{ID: "op-2", LocalSequence: 2, Status: OperationStatusPending},
			{ID: "op-3", LocalSequence: 3, Status: OperationStatusAwaitingAck},
			{ID: "op-4", LocalSequence: 4, Status: OperationStatusFailed},
		},
	}

	pending := task.PendingOperations()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending operations, got %d", len(pending))
	}
	if pending[0].ID != "op-2" || pending[1].ID != "op-3" {
		t.Errorf("Wrong pending set: %s, %s", pending[0].ID, pending[1].ID)
	}
	if !task.HasPendingWork() {
		t.Error("Task with queued operations has pending work")
	}

	// Synced and permanently failed operations alone mean the queue drained.
	task.Operations = []Operation{
		{ID: "op-1", Status: OperationStatusSynced},
		{ID: "op-4", Status: OperationStatusFailed},
	}
	if task.HasPendingWork() {
		t.Error("Drained queue should report no pending work")
	}
}
