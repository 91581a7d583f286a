package sync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/waregrid/picksync/internal/config"
	"github.com/waregrid/picksync/internal/store"
)

// Scheduler triggers sync cycles without user action: on a periodic timer,
// on reconnect, and inside OS-granted background execution windows.
type Scheduler struct {
	mu sync.Mutex

	engine *Engine
	store  *store.Store
	conn   *ConnectionManager
	cfg    *config.SyncConfig

	isRunning bool
	stopChan  chan struct{}
	resetChan chan struct{}
}

// NewScheduler creates a background scheduler.
func NewScheduler(engine *Engine, st *store.Store, conn *ConnectionManager, cfg *config.SyncConfig) *Scheduler {
	return &Scheduler{
		engine:    engine,
		store:     st,
		conn:      conn,
		cfg:       cfg,
		stopChan:  make(chan struct{}),
		resetChan: make(chan struct{}, 1),
	}
}

// Start launches the periodic loop and hooks the connectivity transition.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true

	if s.conn != nil {
		s.conn.OnTransition(func(online bool) {
			if online {
				log.Println("🌐 Reconnected: triggering immediate sync")
				s.engine.TriggerSync()
				// Restart the interval so the next periodic tick is a
				// full interval away from the reconnect sync.
				select {
				case s.resetChan <- struct{}{}:
				default:
				}
			}
		})
	}

	go s.loop()
	log.Println("⏰ Background scheduler started")
}

// Stop halts the periodic loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
}

func (s *Scheduler) loop() {
	interval := time.Duration(s.cfg.AutoSyncInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.resetChan:
			ticker.Reset(interval)
		case <-s.stopChan:
			return
		}
	}
}

// tick triggers a cycle only when there is pending work; an idle device
// skips the network activity entirely.
func (s *Scheduler) tick() {
	pendingTasks, pendingAudits, err := s.store.PendingCounts()
	if err != nil {
		log.Printf("⚠️ Scheduler: failed to count pending work: %v", err)
		return
	}
	if pendingTasks == 0 && pendingAudits == 0 {
		return
	}

	log.Printf("⏰ Periodic sync: %d tasks, %d audit entries pending", pendingTasks, pendingAudits)
	s.engine.TriggerSync()
}

// RunBackgroundWindow cooperates with an OS-provided deferred execution
// window. The host passes a context carrying the window's budget; the
// abbreviated cycle checks it at each item boundary and reports rather than
// hangs when it expires.
func (s *Scheduler) RunBackgroundWindow(ctx context.Context, budget time.Duration) *SyncResult {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	log.Printf("🌙 Background window: abbreviated sync (budget %v)", budget)
	result := s.engine.RunBackgroundWindow(ctx)
	if result == nil {
		log.Println("🌙 Background window: cycle already in flight, nothing to do")
		return nil
	}
	if ctx.Err() != nil {
		log.Printf("🌙 Background window expired mid-cycle: pushed=%d merged=%d", result.OpsPushed, result.TasksMerged)
	}
	return result
}
