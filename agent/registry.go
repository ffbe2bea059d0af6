package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/internal/metrics"
	"github.com/kinos-ai/kinos/internal/retry"
	"github.com/kinos-ai/kinos/tool"
	"github.com/kinos-ai/kinos/types"
)

// worker tracks the goroutine driving one running handle: at most one
// worker per handle at any time.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns every AgentHandle and its run loop. The agents and workers
// maps are the only cross-goroutine shared mutable state in the core; all
// mutation happens under one mutex so running flags, worker bookkeeping and
// counters stay consistent.
type Registry struct {
	mu      sync.Mutex
	agents  map[string]*Handle
	workers map[string]*worker

	cfg       config.Config
	invoker   tool.Invoker
	llm       tool.LLMClient
	collector *metrics.Collector
	logger    *zap.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	monitorOnce sync.Once
	monitorDone chan struct{}

	// startProbe validates that an agent can reach its tooling before its
	// run loop is launched. Overridable in tests.
	startProbe func(ctx context.Context, h *Handle) error

	// startPolicy overrides the start retry policy when non-nil.
	startPolicy *retry.Policy
}

// Option adjusts registry construction.
type Option func(*Registry)

// WithStartProbe replaces the probe run before an agent's loop launches.
func WithStartProbe(probe func(ctx context.Context, h *Handle) error) Option {
	return func(r *Registry) { r.startProbe = probe }
}

// WithStartPolicy overrides the retry policy applied to start probes.
func WithStartPolicy(p retry.Policy) Option {
	return func(r *Registry) { r.startPolicy = &p }
}

// NewRegistry creates a registry. The collector may be nil; the llm client
// may be nil when no research agents are configured.
func NewRegistry(cfg config.Config, invoker tool.Invoker, llm tool.LLMClient, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		agents:     make(map[string]*Handle),
		workers:    make(map[string]*worker),
		cfg:        cfg,
		invoker:    invoker,
		llm:        llm,
		collector:  collector,
		logger:     logger.With(zap.String("component", "registry")),
		rootCtx:    ctx,
		rootCancel: cancel,
		startProbe: func(ctx context.Context, h *Handle) error { return nil },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a handle for the identity if one does not exist yet.
func (r *Registry) Register(identity types.AgentIdentity) error {
	name := types.NormalizeAgentName(identity.Name)
	if name == "" {
		return types.NewError(types.ErrInvalidConfig, "agent identity has no name")
	}
	identity.Name = name
	if identity.Weight <= 0 {
		identity.Weight = types.DefaultWeight
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; ok {
		return nil
	}
	r.agents[name] = newHandle(identity, r.cfg, r.collector)
	r.logger.Debug("agent registered",
		zap.String("agent", name),
		zap.String("kind", string(identity.Kind)),
		zap.Float64("weight", identity.Weight),
	)
	return nil
}

// Deregister stops the agent and removes its handle. Handles are destroyed
// only through this call.
func (r *Registry) Deregister(ctx context.Context, name string) bool {
	name = types.NormalizeAgentName(name)
	if !r.Stop(ctx, name) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; !ok {
		return false
	}
	delete(r.agents, name)
	return true
}

// Start launches the agent's run loop. Idempotent: starting a running
// agent returns true without launching a duplicate worker. Start is
// retried with exponential backoff; after exhausting attempts the handle
// is marked in error state and Start returns false.
func (r *Registry) Start(ctx context.Context, name string) bool {
	name = types.NormalizeAgentName(name)

	r.mu.Lock()
	h, ok := r.agents[name]
	if !ok {
		h = newHandle(types.AgentIdentity{
			Name:   name,
			Kind:   types.KindEditing,
			Weight: types.DefaultWeight,
		}, r.cfg, r.collector)
		r.agents[name] = h
	}
	if _, running := r.workers[name]; running {
		r.mu.Unlock()
		r.logger.Debug("agent already running", zap.String("agent", name))
		return true
	}
	r.mu.Unlock()

	policy := r.startPolicy
	if policy == nil {
		policy = &retry.Policy{
			MaxAttempts:  r.cfg.Agent.MaxStartRetries,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		}
	}
	retryer := retry.NewRetryer(policy, r.logger.With(zap.String("agent", name)))

	err := retryer.Do(ctx, func() error {
		err := r.startProbe(ctx, h)
		if err != nil && tool.IsBenignError(err.Error()) {
			// Known harmless tool warnings do not count as failures.
			r.logger.Debug("ignoring benign startup warning",
				zap.String("agent", name), zap.Error(err))
			return nil
		}
		return err
	})
	if err != nil {
		h.markError()
		r.logger.Error("agent start failed",
			zap.String("agent", name),
			zap.Error(types.NewError(types.ErrAgentStartFailed, err.Error()).WithAgent(name)),
		)
		if r.collector != nil {
			r.collector.RecordAgentStart(name, "failed")
		}
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.workers[name]; running {
		// Lost a race with a concurrent Start; the other worker wins.
		return true
	}

	runCtx, cancel := context.WithCancel(r.rootCtx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	r.workers[name] = w
	h.setRunning(true)

	go r.runLoop(runCtx, h, w)

	r.logger.Info("agent started", zap.String("agent", name))
	if r.collector != nil {
		r.collector.RecordAgentStart(name, "started")
	}
	return true
}

// Stop signals the agent's run loop to exit and joins it with a bounded
// timeout. Safe to call on a stopped agent.
func (r *Registry) Stop(ctx context.Context, name string) bool {
	name = types.NormalizeAgentName(name)

	r.mu.Lock()
	h, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return true
	}
	w, running := r.workers[name]
	if running {
		delete(r.workers, name)
	}
	r.mu.Unlock()

	if !running {
		return true
	}

	w.cancel()

	timeout := r.cfg.Agent.StopTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-w.done:
	case <-time.After(timeout):
		// Do not block shutdown on a stuck worker; it will exit when its
		// context cancellation is finally observed.
		r.logger.Warn("agent did not stop within timeout, abandoning worker",
			zap.String("agent", name),
			zap.Duration("timeout", timeout),
		)
		h.setRunning(false)
		if r.collector != nil {
			r.collector.RecordAgentStop(name)
		}
		return false
	case <-ctx.Done():
		h.setRunning(false)
		if r.collector != nil {
			r.collector.RecordAgentStop(name)
		}
		return false
	}

	h.setRunning(false)
	r.logger.Info("agent stopped", zap.String("agent", name))
	if r.collector != nil {
		r.collector.RecordAgentStop(name)
	}
	return true
}

// Toggle starts or stops the agent depending on action.
func (r *Registry) Toggle(ctx context.Context, name, action string) bool {
	switch action {
	case "start":
		return r.Start(ctx, name)
	case "stop":
		return r.Stop(ctx, name)
	default:
		r.logger.Warn("unknown toggle action",
			zap.String("agent", name),
			zap.String("action", action),
		)
		return false
	}
}

// StopAll stops every running agent.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.Stop(ctx, name)
	}
}

// Close stops the monitor and every agent, then cancels the registry's
// root context.
func (r *Registry) Close(ctx context.Context) {
	r.StopAll(ctx)
	r.rootCancel()
	if r.monitorDone != nil {
		select {
		case <-r.monitorDone:
		case <-ctx.Done():
		}
	}
}

// Status returns a snapshot for one agent.
func (r *Registry) Status(name string) (types.AgentStatus, error) {
	name = types.NormalizeAgentName(name)

	r.mu.Lock()
	h, ok := r.agents[name]
	r.mu.Unlock()
	if !ok {
		return types.AgentStatus{}, types.NewError(types.ErrAgentNotFound,
			fmt.Sprintf("agent %q is not registered", name)).WithAgent(name)
	}
	return h.snapshot(r.cfg.Health.ErrorLimit, r.cfg.Health.NoChangeLimit), nil
}

// StatusAll returns snapshots for every registered agent.
func (r *Registry) StatusAll() map[string]types.AgentStatus {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.agents))
	for _, h := range r.agents {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	out := make(map[string]types.AgentStatus, len(handles))
	for _, h := range handles {
		out[h.identity.Name] = h.snapshot(r.cfg.Health.ErrorLimit, r.cfg.Health.NoChangeLimit)
	}
	return out
}

// SystemMetrics aggregates per-agent counters.
func (r *Registry) SystemMetrics() types.SystemMetrics {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.agents))
	running := make(map[string]bool, len(r.workers))
	for name := range r.workers {
		running[name] = true
	}
	for _, h := range r.agents {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var m types.SystemMetrics
	m.TotalAgents = len(handles)
	for _, h := range handles {
		errs, hits, misses, reads, writes := h.counters()
		m.ErrorCount += int64(errs)
		m.CacheHits += hits
		m.CacheMisses += misses
		m.FileReads += reads
		m.FileWrites += writes
		if running[h.identity.Name] {
			m.ActiveAgents++
		}
		if h.healthy(r.cfg.Health.ErrorLimit, r.cfg.Health.NoChangeLimit) {
			m.HealthyAgents++
		}
	}
	return m
}

// ComputeSystemHealth scores overall system well-being in [0,1]: 40%
// healthy fraction, 30% active fraction, 20% inverted error rate, 10%
// cache-hit rate. Returns exactly 0 with no agents.
func (r *Registry) ComputeSystemHealth(m types.SystemMetrics) float64 {
	if m.TotalAgents == 0 {
		return 0.0
	}

	agentHealth := float64(m.HealthyAgents) / float64(m.TotalAgents)
	activeRatio := float64(m.ActiveAgents) / float64(m.TotalAgents)

	totalOps := m.TotalOperations()
	if totalOps < 1 {
		totalOps = 1
	}
	errorRate := float64(m.ErrorCount) / float64(totalOps)

	cacheOps := m.CacheHits + m.CacheMisses
	if cacheOps < 1 {
		cacheOps = 1
	}
	cacheRate := float64(m.CacheHits) / float64(cacheOps)

	score := 0.4*agentHealth + 0.3*activeRatio + 0.2*(1-errorRate) + 0.1*cacheRate
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// PickWeighted selects one candidate at random with probability
// proportional to its configured weight. Unregistered names count with the
// default weight. Returns false for an empty candidate list.
func (r *Registry) PickWeighted(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	r.mu.Lock()
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, name := range candidates {
		w := types.DefaultWeight
		if h, ok := r.agents[types.NormalizeAgentName(name)]; ok && h.identity.Weight > 0 {
			w = h.identity.Weight
		}
		weights[i] = w
		total += w
	}
	r.mu.Unlock()

	if total <= 0 {
		return candidates[rand.Intn(len(candidates))], true
	}

	target := rand.Float64() * total
	for i, w := range weights {
		target -= w
		if target < 0 {
			return candidates[i], true
		}
	}
	return candidates[len(candidates)-1], true
}

// runLoop drives one agent until its context is cancelled: rate-limit
// admission, one tool invocation, then a dynamically backed-off sleep.
func (r *Registry) runLoop(ctx context.Context, h *Handle, w *worker) {
	defer close(w.done)

	name := h.identity.Name
	logger := r.logger.With(zap.String("agent", name))

	for {
		if ctx.Err() != nil {
			return
		}

		if !h.limiter.Allow() {
			wait := h.limiter.WaitTime()
			logger.Debug("rate limited, backing off", zap.Duration("wait", wait))
			if r.collector != nil {
				r.collector.RecordRateLimitReject(name)
			}
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		h.limiter.Record()

		start := time.Now()
		output, err := r.invokeOnce(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			count := h.recordError()
			logger.Warn("agent run failed",
				zap.Error(err),
				zap.Int("error_count", count),
			)
			if r.collector != nil {
				r.collector.RecordAgentFailure(name, "run_error")
				r.collector.RecordAgentError(name)
			}
		} else {
			changed := output != ""
			h.recordRun(changed, time.Now())
			logger.Debug("agent run finished",
				zap.Bool("changed", changed),
				zap.Duration("elapsed", time.Since(start)),
			)
			if r.collector != nil {
				r.collector.RecordAgentRun(name, string(h.identity.Kind), time.Since(start))
			}
		}

		if !sleepCtx(ctx, h.DynamicInterval()) {
			return
		}
	}
}

// invokeOnce performs one unit of agent work. Research agents consult the
// LLM (through the prompt cache) before handing instructions to the
// editing tool.
func (r *Registry) invokeOnce(ctx context.Context, h *Handle) (string, error) {
	instructions := fmt.Sprintf("Act as the %s agent: advance the mission one focused step.", h.identity.Name)

	if h.identity.Kind == types.KindResearch && r.llm != nil {
		key := "research:" + h.identity.Name
		if cached, ok := h.cache.Get(key); ok {
			instructions = cached
		} else {
			resp, err := r.llm.GenerateResponse(ctx,
				[]tool.Message{{Role: "user", Content: instructions}},
				"Produce concrete, actionable editing instructions.")
			if err != nil {
				return "", err
			}
			h.cache.Put(key, resp)
			instructions = resp
		}
	}

	return r.invoker.Execute(ctx, instructions, nil)
}

// sleepCtx sleeps for d unless ctx is cancelled first; reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
