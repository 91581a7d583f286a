package sync

import (
	"log"
	"sync"
	"time"

	"github.com/waregrid/picksync/internal/models"
)

// OnlineChecker reports the device's current connectivity. Satisfied by
// *ConnectionManager.
type OnlineChecker interface {
	IsOnline() bool
}

type session struct {
	startedOffline bool
	initialStatus  models.TaskStatus
	startedAt      time.Time
}

// SessionTracker pins a workflow's writes to the connectivity mode observed
// when it started. A session that began offline keeps routing mutations
// through the queued path even after reconnection, so a later step can never
// reach the server before an earlier queued one. Sessions end only at stable
// checkpoint statuses.
type SessionTracker struct {
	mu       sync.Mutex
	conn     OnlineChecker
	sessions map[string]*session
	onFlush  func(taskID string)
}

// NewSessionTracker creates a session tracker reading connectivity from conn.
// onFlush is invoked when a session completes while the device is online, to
// trigger an immediate sync of the now-complete queued sequence; nil disables
// the callback.
func NewSessionTracker(conn OnlineChecker, onFlush func(taskID string)) *SessionTracker {
	return &SessionTracker{
		conn:     conn,
		sessions: make(map[string]*session),
		onFlush:  onFlush,
	}
}

// StartSession records the connectivity mode a workflow starts under. A
// second start for the same task is a no-op: the original mode keeps ruling
// until a stable checkpoint.
func (st *SessionTracker) StartSession(taskID string, initialStatus models.TaskStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[taskID]; exists {
		return
	}

	offline := !st.conn.IsOnline()
	st.sessions[taskID] = &session{
		startedOffline: offline,
		initialStatus:  initialStatus,
		startedAt:      time.Now(),
	}
	if offline {
		log.Printf("📴 Session for task %s started offline, pinning queued delivery", taskID)
	}
}

// ShouldUseOfflineMode reports whether a mutation for this task must take the
// queued path: true when the device is offline now, or when the task's active
// session began offline.
func (st *SessionTracker) ShouldUseOfflineMode(taskID string) bool {
	if !st.conn.IsOnline() {
		return true
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[taskID]; ok && sess.startedOffline {
		return true
	}
	return false
}

// CompleteSession ends a task's session if finalStatus is a stable
// checkpoint. Non-checkpoint statuses never end a session on their own.
// When the device has reconnected, the flush callback fires so the queued
// sequence drains immediately.
func (st *SessionTracker) CompleteSession(taskID string, finalStatus models.TaskStatus) {
	if !finalStatus.IsStableCheckpoint() {
		return
	}

	st.mu.Lock()
	sess, ok := st.sessions[taskID]
	if ok {
		delete(st.sessions, taskID)
	}
	flush := st.onFlush
	st.mu.Unlock()

	if !ok {
		return
	}

	log.Printf("✅ Session for task %s completed at %s (started %s)", taskID, finalStatus, sess.initialStatus)

	if sess.startedOffline && st.conn.IsOnline() && flush != nil {
		log.Printf("🔄 Device back online, flushing queued work for task %s", taskID)
		flush(taskID)
	}
}

// ActiveSessions returns the ids of tasks with an open session.
func (st *SessionTracker) ActiveSessions() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}
