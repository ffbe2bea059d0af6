// Package agent owns agent runtime records: lifecycle, health accounting
// and the registry that schedules their run loops.
package agent

import (
	"sync"
	"time"

	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/internal/metrics"
	"github.com/kinos-ai/kinos/internal/ratelimit"
	"github.com/kinos-ai/kinos/types"
)

// Handle states reported in status snapshots.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StateError   = "error"
)

// Handle is the mutable runtime record of one agent. It is owned
// exclusively by the Registry; a handle is removed only on explicit
// deregistration, never implicitly. All fields are guarded by mu.
type Handle struct {
	identity types.AgentIdentity

	mu                   sync.Mutex
	running              bool
	state                string
	lastRun              *time.Time
	lastChange           *time.Time
	consecutiveNoChanges int
	errorCount           int
	fileReads            int64
	fileWrites           int64

	// limiter is owned by this handle and never shared across agents.
	limiter *ratelimit.SlidingWindow
	cache   *PromptCache

	baseInterval time.Duration
	maxInterval  time.Duration
}

func newHandle(identity types.AgentIdentity, cfg config.Config, collector *metrics.Collector) *Handle {
	base := cfg.Agent.BaseInterval
	if base <= 0 {
		base = time.Minute
	}
	max := cfg.Agent.MaxInterval
	if max < base {
		max = base
	}
	return &Handle{
		identity:     identity,
		state:        StateStopped,
		limiter:      ratelimit.NewSlidingWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
		cache:        NewPromptCache(0, collector),
		baseInterval: base,
		maxInterval:  max,
	}
}

// Identity returns the immutable identity of the agent.
func (h *Handle) Identity() types.AgentIdentity {
	return h.identity
}

// DynamicInterval returns the current delay between runs: the base
// interval doubled per consecutive unproductive run, capped at the
// configured maximum.
func (h *Handle) DynamicInterval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dynamicIntervalLocked()
}

func (h *Handle) dynamicIntervalLocked() time.Duration {
	interval := h.baseInterval
	for i := 0; i < h.consecutiveNoChanges; i++ {
		interval *= 2
		if interval >= h.maxInterval {
			return h.maxInterval
		}
	}
	return interval
}

// recordRun updates run bookkeeping after one tool invocation.
func (h *Handle) recordRun(changed bool, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastRun = &now
	if changed {
		h.lastChange = &now
		h.consecutiveNoChanges = 0
		h.fileWrites++
	} else {
		h.consecutiveNoChanges++
	}
	h.fileReads++
}

// recordError increments the error count and returns the new value.
func (h *Handle) recordError() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
	return h.errorCount
}

func (h *Handle) isRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Handle) setRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
	if running {
		h.state = StateRunning
	} else if h.state != StateError {
		h.state = StateStopped
	}
}

func (h *Handle) markError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.state = StateError
}

// healthy reports whether the agent is within both health thresholds.
func (h *Handle) healthy(errorLimit, noChangeLimit int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthyLocked(errorLimit, noChangeLimit)
}

func (h *Handle) healthyLocked(errorLimit, noChangeLimit int) bool {
	if h.state == StateError {
		return false
	}
	return h.errorCount <= errorLimit && h.consecutiveNoChanges <= noChangeLimit
}

// snapshot returns a point-in-time status. Snapshots are not
// transactionally consistent with concurrent Start/Stop calls.
func (h *Handle) snapshot(errorLimit, noChangeLimit int) types.AgentStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	hits, misses := h.cache.Stats()
	return types.AgentStatus{
		Name:            h.identity.Name,
		Running:         h.running,
		State:           h.state,
		LastRun:         h.lastRun,
		LastChange:      h.lastChange,
		CurrentInterval: h.dynamicIntervalLocked(),
		Health: types.HealthStatus{
			IsHealthy:            h.healthyLocked(errorLimit, noChangeLimit),
			ConsecutiveNoChanges: h.consecutiveNoChanges,
			ErrorCount:           h.errorCount,
		},
		CacheHits:   hits,
		CacheMisses: misses,
	}
}

// counters returns the raw metric counters for system health aggregation.
func (h *Handle) counters() (errorCount int, hits, misses, reads, writes int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hits, misses = h.cache.Stats()
	return h.errorCount, hits, misses, h.fileReads, h.fileWrites
}

// resetErrors clears the error count after a successful restart.
func (h *Handle) resetErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount = 0
	h.consecutiveNoChanges = 0
	if h.state == StateError {
		h.state = StateStopped
	}
}
