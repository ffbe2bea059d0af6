package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kinos-ai/kinos/types"
)

// StartMonitor launches the periodic health monitor. Subsequent calls are
// no-ops. The monitor stops when the registry is closed.
func (r *Registry) StartMonitor() {
	r.monitorOnce.Do(func() {
		r.monitorDone = make(chan struct{})
		go r.monitorLoop()
	})
}

func (r *Registry) monitorLoop() {
	defer close(r.monitorDone)

	interval := r.cfg.Health.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.rootCtx.Done():
			return
		case <-ticker.C:
			r.monitorTick()
		}
	}
}

// monitorTick performs one monitoring pass: stop agents past the error
// limit, then score system health and run best-effort recovery when
// degraded. Degradation handling is logged, never fatal.
func (r *Registry) monitorTick() {
	r.stopAgentsOverErrorLimit()

	m := r.SystemMetrics()
	score := r.ComputeSystemHealth(m)
	if r.collector != nil {
		r.collector.SetSystemHealth(score)
	}

	if m.TotalAgents == 0 {
		return
	}

	if score < r.cfg.Health.DegradationThreshold {
		r.handleDegradation(m, score)
	}
}

func (r *Registry) stopAgentsOverErrorLimit() {
	r.mu.Lock()
	var over []*Handle
	for name, h := range r.agents {
		if _, running := r.workers[name]; !running {
			continue
		}
		h.mu.Lock()
		count := h.errorCount
		h.mu.Unlock()
		if count > r.cfg.Health.ErrorLimit {
			over = append(over, h)
		}
	}
	r.mu.Unlock()

	for _, h := range over {
		name := h.identity.Name
		r.logger.Warn("agent exceeded error limit, stopping",
			zap.String("agent", name),
			zap.Int("error_limit", r.cfg.Health.ErrorLimit),
		)
		r.Stop(context.Background(), name)
		h.markError()
	}
}

// handleDegradation attempts best-effort recovery: restarting unhealthy
// agents and clearing prompt caches when the hit rate is poor.
func (r *Registry) handleDegradation(m types.SystemMetrics, score float64) {
	r.logger.Warn("system health degraded",
		zap.Float64("score", score),
		zap.Int("active_agents", m.ActiveAgents),
		zap.Int("healthy_agents", m.HealthyAgents),
		zap.Int("total_agents", m.TotalAgents),
		zap.Int64("error_count", m.ErrorCount),
	)

	var actions []string

	if m.HealthyAgents < m.TotalAgents {
		actions = append(actions, "restarting unhealthy agents")
		r.restartUnhealthyAgents()
	}

	cacheOps := m.CacheHits + m.CacheMisses
	if cacheOps > 0 {
		hitRate := float64(m.CacheHits) / float64(cacheOps)
		if hitRate < r.cfg.Health.CacheHitThreshold {
			actions = append(actions, "clearing prompt caches")
			r.clearPromptCaches()
		}
	}

	if len(actions) > 0 {
		r.logger.Info("recovery actions taken", zap.Strings("actions", actions))
	} else {
		r.logger.Warn("no automatic recovery actions available")
	}
}

func (r *Registry) restartUnhealthyAgents() {
	r.mu.Lock()
	var unhealthy []string
	for name, h := range r.agents {
		if !h.healthy(r.cfg.Health.ErrorLimit, r.cfg.Health.NoChangeLimit) {
			unhealthy = append(unhealthy, name)
		}
	}
	r.mu.Unlock()

	for _, name := range unhealthy {
		r.Stop(context.Background(), name)

		r.mu.Lock()
		if h, ok := r.agents[name]; ok {
			h.resetErrors()
		}
		r.mu.Unlock()

		if r.Start(r.rootCtx, name) {
			r.logger.Info("restarted unhealthy agent", zap.String("agent", name))
		} else {
			r.logger.Warn("failed to restart unhealthy agent", zap.String("agent", name))
		}
	}
}

func (r *Registry) clearPromptCaches() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.agents))
	for _, h := range r.agents {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cache.Clear()
	}
}
