package sync

import (
	"testing"

	"github.com/waregrid/picksync/internal/models"
)

type fakeConn struct {
	online bool
}

func (f *fakeConn) IsOnline() bool { return f.online }

func TestSessionTracker_OfflineSessionStaysOffline(t *testing.T) {
	conn := &fakeConn{online: false}
	st := NewSessionTracker(conn, nil)

	st.StartSession("task-1", models.TaskStatusPending)

	if !st.ShouldUseOfflineMode("task-1") {
		t.Fatal("Session started offline must use offline mode")
	}

	// Connectivity comes back mid-workflow: the session stays pinned.
	conn.online = true
	if !st.ShouldUseOfflineMode("task-1") {
		t.Error("Reconnection must not switch an active offline session to online mode")
	}

	// A different task with no session follows live connectivity.
	if st.ShouldUseOfflineMode("task-2") {
		t.Error("Task without an offline session should use online mode when connected")
	}
}

func TestSessionTracker_OnlineSessionFollowsConnectivity(t *testing.T) {
	conn := &fakeConn{online: true}
	st := NewSessionTracker(conn, nil)

	st.StartSession("task-1", models.TaskStatusPending)
	if st.ShouldUseOfflineMode("task-1") {
		t.Error("Session started online should use online mode")
	}

	// Going offline always forces the queued path.
	conn.online = false
	if !st.ShouldUseOfflineMode("task-1") {
		t.Error("Offline device must always use offline mode")
	}
}

func TestSessionTracker_CompletesOnlyAtStableCheckpoint(t *testing.T) {
	conn := &fakeConn{online: false}
	st := NewSessionTracker(conn, nil)

	st.StartSession("task-1", models.TaskStatusPending)
	conn.online = true

	// Intermediate statuses do not end the session.
	st.CompleteSession("task-1", models.TaskStatusPicking)
	st.CompleteSession("task-1", models.TaskStatusInspecting)
	st.CompleteSession("task-1", models.TaskStatusCorrecting)
	if !st.ShouldUseOfflineMode("task-1") {
		t.Fatal("Session must survive non-checkpoint statuses")
	}

	st.CompleteSession("task-1", models.TaskStatusPacked)
	if st.ShouldUseOfflineMode("task-1") {
		t.Error("Packed is a stable checkpoint and must end the session")
	}
}

func TestSessionTracker_FlushFiresOnReconnectedCompletion(t *testing.T) {
	conn := &fakeConn{online: false}
	var flushed []string
	st := NewSessionTracker(conn, func(taskID string) {
		flushed = append(flushed, taskID)
	})

	st.StartSession("task-1", models.TaskStatusPicking)

	// Completing while still offline queues silently, no flush.
	st.CompleteSession("task-1", models.TaskStatusCancelled)
	if len(flushed) != 0 {
		t.Fatalf("Flush must not fire while offline, got %v", flushed)
	}

	// Offline-started session completing after reconnect drains immediately.
	st.StartSession("task-2", models.TaskStatusPicking)
	conn.online = true
	st.CompleteSession("task-2", models.TaskStatusCompleted)
	if len(flushed) != 1 || flushed[0] != "task-2" {
		t.Errorf("Expected flush for task-2, got %v", flushed)
	}
}

func TestSessionTracker_RepeatStartKeepsOriginalMode(t *testing.T) {
	conn := &fakeConn{online: false}
	st := NewSessionTracker(conn, nil)

	st.StartSession("task-1", models.TaskStatusPending)
	conn.online = true

	// A second start after reconnect must not re-read connectivity.
	st.StartSession("task-1", models.TaskStatusPicking)
	if !st.ShouldUseOfflineMode("task-1") {
		t.Error("Repeat start must keep the original offline pin")
	}
}
