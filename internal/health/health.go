// Package health provides a registry of named subsystem health checkers and
// the HTTP probes built on it.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Overall states reported by /health.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// checkTimeout bounds a full CheckAll run from the HTTP handler.
const checkTimeout = 5 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
	// Critical failures make the process unhealthy; others only degrade it
	// (e.g. an ingestion source is down but snapshots are still served).
	Critical bool `json:"critical,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker

	live  atomic.Bool
	ready atomic.Bool
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry. The process starts live
// and not ready.
func NewRegistry() *Registry {
	r := &Registry{}
	r.live.Store(true)
	return r
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if statuses[i].Name == "" {
			statuses[i].Name = nc.name
		}
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// Overall folds statuses into healthy, degraded or unhealthy.
func Overall(statuses []Status) string {
	state := StateHealthy
	for _, st := range statuses {
		if st.Healthy {
			continue
		}
		if st.Critical {
			return StateUnhealthy
		}
		state = StateDegraded
	}
	return state
}

// SetReady flips the readiness probe.
func (r *Registry) SetReady(ready bool) { r.ready.Store(ready) }

// SetLive flips the liveness probe.
func (r *Registry) SetLive(live bool) { r.live.Store(live) }

// Ready reports readiness.
func (r *Registry) Ready() bool { return r.ready.Load() }

// Response is the body of GET /health.
type Response struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Checks    []Status `json:"checks"`
	Timestamp string   `json:"timestamp"`
}

// Handler serves the aggregate report. Only an unhealthy state returns 503.
func (r *Registry) Handler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()

		_, statuses := r.CheckAll(ctx)
		state := Overall(statuses)
		code := http.StatusOK
		if state == StateUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, Response{
			Status:    state,
			Version:   version,
			Checks:    statuses,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LiveHandler serves /health/live.
func (r *Registry) LiveHandler(c *gin.Context) {
	if !r.live.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadyHandler serves /health/ready.
func (r *Registry) ReadyHandler(c *gin.Context) {
	if !r.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
