// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records orchestration metrics.
type Collector struct {
	// Agent lifecycle
	agentStartsTotal   *prometheus.CounterVec
	agentStopsTotal    *prometheus.CounterVec
	agentFailuresTotal *prometheus.CounterVec
	agentsRunning      prometheus.Gauge
	agentRunDuration   *prometheus.HistogramVec

	// Health
	systemHealth     prometheus.Gauge
	agentErrorsTotal *prometheus.CounterVec

	// Phase
	phaseTransitionsTotal *prometheus.CounterVec
	phaseTokensUsed       prometheus.Gauge

	// Team runs
	teamRunsTotal      *prometheus.CounterVec
	admissionWait      prometheus.Histogram
	rateLimitRejects   *prometheus.CounterVec
	toolInvocations    *prometheus.CounterVec
	toolInvokeDuration *prometheus.HistogramVec

	// Prompt cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered against reg. A nil
// reg uses the default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.agentStartsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_starts_total",
			Help:      "Total number of agent starts",
		},
		[]string{"agent", "status"},
	)

	c.agentStopsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_stops_total",
			Help:      "Total number of agent stops",
		},
		[]string{"agent"},
	)

	c.agentFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_failures_total",
			Help:      "Total number of agent run failures",
		},
		[]string{"agent", "reason"},
	)

	c.agentsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_running",
			Help:      "Number of agents currently running",
		},
	)

	c.agentRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agent run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent", "agent_type"},
	)

	c.systemHealth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_health",
			Help:      "Composite system health score between 0 and 1",
		},
	)

	c.agentErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_errors_total",
			Help:      "Total number of agent errors",
		},
		[]string{"agent"},
	)

	c.phaseTransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Total number of phase transitions",
		},
		[]string{"from", "to"},
	)

	c.phaseTokensUsed = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_tokens_used",
			Help:      "Token footprint used by the last phase computation",
		},
	)

	c.teamRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "team_runs_total",
			Help:      "Total number of team runs",
		},
		[]string{"team", "status"},
	)

	c.admissionWait = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for admission slots",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.rateLimitRejects = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejects_total",
			Help:      "Total number of requests deferred by rate limiting",
		},
		[]string{"agent"},
	)

	c.toolInvocations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	c.toolInvokeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_invoke_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tool"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordAgentStart records an agent start attempt.
func (c *Collector) RecordAgentStart(agent, status string) {
	c.agentStartsTotal.WithLabelValues(agent, status).Inc()
	if status == "started" {
		c.agentsRunning.Inc()
	}
}

// RecordAgentStop records an agent stop.
func (c *Collector) RecordAgentStop(agent string) {
	c.agentStopsTotal.WithLabelValues(agent).Inc()
	c.agentsRunning.Dec()
}

// RecordAgentFailure records an agent run failure.
func (c *Collector) RecordAgentFailure(agent, reason string) {
	c.agentFailuresTotal.WithLabelValues(agent, reason).Inc()
}

// RecordAgentRun records an agent run duration.
func (c *Collector) RecordAgentRun(agent, agentType string, duration time.Duration) {
	c.agentRunDuration.WithLabelValues(agent, agentType).Observe(duration.Seconds())
}

// RecordAgentError records an agent error occurrence.
func (c *Collector) RecordAgentError(agent string) {
	c.agentErrorsTotal.WithLabelValues(agent).Inc()
}

// SetSystemHealth records the composite health score.
func (c *Collector) SetSystemHealth(score float64) {
	c.systemHealth.Set(score)
}

// RecordPhaseTransition records a phase change.
func (c *Collector) RecordPhaseTransition(from, to string) {
	c.phaseTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetPhaseTokens records the token footprint of the last phase computation.
func (c *Collector) SetPhaseTokens(tokens int64) {
	c.phaseTokensUsed.Set(float64(tokens))
}

// RecordTeamRun records the outcome of a team run.
func (c *Collector) RecordTeamRun(team, status string) {
	c.teamRunsTotal.WithLabelValues(team, status).Inc()
}

// RecordAdmissionWait records time spent waiting for an admission slot.
func (c *Collector) RecordAdmissionWait(wait time.Duration) {
	c.admissionWait.Observe(wait.Seconds())
}

// RecordRateLimitReject records a deferred request.
func (c *Collector) RecordRateLimitReject(agent string) {
	c.rateLimitRejects.WithLabelValues(agent).Inc()
}

// RecordToolInvocation records a tool invocation.
func (c *Collector) RecordToolInvocation(tool, status string, duration time.Duration) {
	c.toolInvocations.WithLabelValues(tool, status).Inc()
	c.toolInvokeDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}
