package sync

import (
	"log"
	"net/http"
	"sync"
	"time"
)

// RouteType represents the type of sync route
type RouteType string

const (
	RouteTypePrimary  RouteType = "primary"
	RouteTypeFallback RouteType = "fallback"
)

// RouteConfig represents a configured backend route
type RouteConfig struct {
	URL      string    `json:"url"`
	Type     RouteType `json:"type"`
	Timeout  int       `json:"timeout"`  // seconds
	Priority int       `json:"priority"` // lower = higher priority
}

// RouteStatus tracks the health of a route
type RouteStatus struct {
	URL          string
	IsAvailable  bool
	LastCheck    time.Time
	LastSuccess  *time.Time
	LastFailure  *time.Time
	SuccessCount int
	FailureCount int
	AvgLatency   time.Duration
	latencySum   time.Duration
	latencyCount int
}

// ConnectionManager is the device's connectivity monitor. It probes the
// configured backend routes, publishes the online/offline flag, and notifies
// listeners on transitions. It is the only writer of the online flag; the
// orchestrator and session tracker only read it.
type ConnectionManager struct {
	mu sync.RWMutex

	routes        []RouteConfig
	currentRoute  string
	routeStatuses map[string]*RouteStatus
	isOnline      bool

	healthCheckInterval time.Duration
	healthCheckRunning  bool
	stopHealthCheck     chan struct{}

	// Transition listeners, called outside the lock.
	listeners []func(online bool)
}

// NewConnectionManager creates a connectivity monitor for the given routes.
func NewConnectionManager(routes []RouteConfig, healthCheckInterval time.Duration) *ConnectionManager {
	if healthCheckInterval <= 0 {
		healthCheckInterval = 30 * time.Second
	}
	cm := &ConnectionManager{
		routes:              routes,
		routeStatuses:       make(map[string]*RouteStatus),
		healthCheckInterval: healthCheckInterval,
		stopHealthCheck:     make(chan struct{}),
	}

	for _, route := range routes {
		cm.routeStatuses[route.URL] = &RouteStatus{URL: route.URL}
	}

	return cm
}

// OnTransition registers a listener invoked on every offline<->online flip.
func (cm *ConnectionManager) OnTransition(fn func(online bool)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, fn)
}

// Start begins health checking
func (cm *ConnectionManager) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.healthCheckRunning {
		return
	}

	cm.healthCheckRunning = true
	go cm.healthCheckLoop()
}

// Stop stops health checking
func (cm *ConnectionManager) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.healthCheckRunning {
		return
	}

	cm.healthCheckRunning = false
	close(cm.stopHealthCheck)
}

// IsOnline returns whether any route is available
func (cm *ConnectionManager) IsOnline() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isOnline
}

// CurrentRoute returns the currently selected route URL, or "offline".
func (cm *ConnectionManager) CurrentRoute() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.currentRoute == "" {
		return "offline"
	}
	return cm.currentRoute
}

// RouteStatuses returns a copy of all route health records.
func (cm *ConnectionManager) RouteStatuses() map[string]RouteStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	result := make(map[string]RouteStatus, len(cm.routeStatuses))
	for k, v := range cm.routeStatuses {
		result[k] = *v
	}
	return result
}

// CheckNow probes all routes immediately and returns the resulting flag.
func (cm *ConnectionManager) CheckNow() bool {
	cm.checkAllRoutes()
	return cm.IsOnline()
}

// healthCheckLoop periodically checks route health
func (cm *ConnectionManager) healthCheckLoop() {
	// Probe immediately so the agent knows its starting state.
	cm.checkAllRoutes()

	ticker := time.NewTicker(cm.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.checkAllRoutes()
		case <-cm.stopHealthCheck:
			return
		}
	}
}

// checkAllRoutes probes routes in priority order and records transitions.
func (cm *ConnectionManager) checkAllRoutes() {
	cm.mu.Lock()

	wasOnline := cm.isOnline
	selected := ""
	for _, route := range cm.routes {
		if cm.testConnection(route.URL, route.Timeout) {
			selected = route.URL
			break
		}
	}

	if selected != "" {
		if cm.currentRoute != selected {
			log.Printf("🔀 Route switched: %s -> %s", cm.currentRouteLabel(), selected)
			cm.currentRoute = selected
		}
		cm.isOnline = true
	} else {
		if cm.currentRoute != "" {
			log.Printf("📴 All routes unavailable, going offline")
		}
		cm.currentRoute = ""
		cm.isOnline = false
	}

	nowOnline := cm.isOnline
	listeners := cm.listeners
	cm.mu.Unlock()

	if wasOnline != nowOnline {
		if nowOnline {
			log.Printf("🌐 Connectivity restored")
		}
		for _, fn := range listeners {
			fn(nowOnline)
		}
	}
}

func (cm *ConnectionManager) currentRouteLabel() string {
	if cm.currentRoute == "" {
		return "offline"
	}
	return cm.currentRoute
}

// testConnection tests if a route is available
func (cm *ConnectionManager) testConnection(url string, timeout int) bool {
	if timeout <= 0 {
		timeout = 10
	}
	client := &http.Client{
		Timeout: time.Duration(timeout) * time.Second,
	}

	status := cm.routeStatuses[url]
	status.LastCheck = time.Now()

	start := time.Now()
	resp, err := client.Get(url + "/health")
	latency := time.Since(start)

	if err != nil {
		status.IsAvailable = false
		status.FailureCount++
		now := time.Now()
		status.LastFailure = &now
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		status.IsAvailable = true
		status.SuccessCount++
		now := time.Now()
		status.LastSuccess = &now
		status.FailureCount = 0

		status.latencySum += latency
		status.latencyCount++
		status.AvgLatency = status.latencySum / time.Duration(status.latencyCount)
		return true
	}

	status.IsAvailable = false
	status.FailureCount++
	now := time.Now()
	status.LastFailure = &now
	log.Printf("Route %s returned status %d", url, resp.StatusCode)
	return false
}
