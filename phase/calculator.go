// Package phase derives the coarse operating mode (EXPANSION or
// CONVERGENCE) from the mission's token footprint.
package phase

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/internal/metrics"
	"github.com/kinos-ai/kinos/types"
)

// Calculator converts a measured token count into a discrete phase using
// hysteresis thresholds. Safe for concurrent use.
type Calculator struct {
	mu             sync.Mutex
	current        types.Phase
	totalTokens    int64
	lastTransition time.Time

	tokenLimit int64
	upper      float64 // usage fraction at/above which the phase is CONVERGENCE
	lower      float64 // usage fraction below which the phase is EXPANSION

	logger    *zap.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// NewCalculator creates a calculator starting in EXPANSION. The collector
// may be nil.
func NewCalculator(cfg config.PhaseConfig, collector *metrics.Collector, logger *zap.Logger) *Calculator {
	return &Calculator{
		current:    types.PhaseExpansion,
		tokenLimit: cfg.TokenLimit,
		upper:      cfg.ConvergenceThreshold,
		lower:      cfg.ExpansionThreshold,
		logger:     logger.With(zap.String("component", "phase")),
		collector:  collector,
		now:        time.Now,
	}
}

// DeterminePhase recomputes the phase for the given token count. The stored
// phase and token count are updated unconditionally; a transition is logged
// only when the phase actually changes. Recomputing with the same count is
// idempotent. A non-positive token budget fails closed to EXPANSION.
func (c *Calculator) DeterminePhase(totalTokens int64) (types.Phase, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if totalTokens < 0 {
		totalTokens = 0
	}

	if c.tokenLimit <= 0 {
		c.totalTokens = totalTokens
		if c.current != types.PhaseExpansion {
			c.setPhase(types.PhaseExpansion)
		}
		msg := "token budget not configured, staying in expansion"
		c.logger.Error(msg, zap.Int64("token_limit", c.tokenLimit))
		return types.PhaseExpansion, msg, types.NewError(types.ErrPhaseComputation,
			fmt.Sprintf("token budget must be positive, got %d", c.tokenLimit))
	}

	usage := float64(totalTokens) / float64(c.tokenLimit)

	next := c.current
	switch {
	case usage >= c.upper:
		next = types.PhaseConvergence
	case usage < c.lower:
		next = types.PhaseExpansion
	}
	// Between thresholds the previous phase is retained.

	c.totalTokens = totalTokens
	if c.collector != nil {
		c.collector.SetPhaseTokens(totalTokens)
	}

	msg := fmt.Sprintf("phase %s at %.1f%% usage", next, usage*100)
	if next != c.current {
		prev := c.current
		c.setPhase(next)
		c.logger.Info("phase transition",
			zap.String("from", string(prev)),
			zap.String("to", string(next)),
			zap.Float64("usage", usage),
			zap.Int64("total_tokens", totalTokens),
		)
		if c.collector != nil {
			c.collector.RecordPhaseTransition(string(prev), string(next))
		}
	}

	return next, msg, nil
}

// ForcePhase overrides the stored phase, recording a transition if the
// phase changes. Used by operator tooling.
func (c *Calculator) ForcePhase(p types.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p == c.current {
		return
	}
	prev := c.current
	c.setPhase(p)
	c.logger.Warn("phase forced",
		zap.String("from", string(prev)),
		zap.String("to", string(p)),
	)
	if c.collector != nil {
		c.collector.RecordPhaseTransition(string(prev), string(p))
	}
}

// Current returns the stored phase without recomputation.
func (c *Calculator) Current() types.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// StatusInfo returns a snapshot derived purely from stored state.
func (c *Calculator) StatusInfo() types.PhaseStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	var usage float64
	if c.tokenLimit > 0 {
		usage = float64(c.totalTokens) / float64(c.tokenLimit)
	}

	return types.PhaseStatus{
		Phase:          c.current,
		TotalTokens:    c.totalTokens,
		UsagePercent:   usage * 100,
		StatusMessage:  c.statusMessage(usage),
		Headroom:       c.headroom(),
		LastTransition: c.lastTransition,
	}
}

// headroom is the token count remaining until the next relevant boundary:
// in EXPANSION, until the convergence trigger; in CONVERGENCE, until the
// budget itself.
func (c *Calculator) headroom() int64 {
	if c.tokenLimit <= 0 {
		return 0
	}
	var h int64
	if c.current == types.PhaseExpansion {
		h = int64(float64(c.tokenLimit)*c.upper) - c.totalTokens
	} else {
		h = c.tokenLimit - c.totalTokens
	}
	if h < 0 {
		h = 0
	}
	return h
}

func (c *Calculator) statusMessage(usage float64) string {
	switch {
	case c.tokenLimit <= 0:
		return "token budget not configured"
	case usage >= c.upper:
		return fmt.Sprintf("converging, %.1f%% of budget used", usage*100)
	case usage >= c.lower:
		return fmt.Sprintf("near threshold, %.1f%% of budget used", usage*100)
	default:
		return fmt.Sprintf("expanding, %.1f%% of budget used", usage*100)
	}
}

func (c *Calculator) setPhase(p types.Phase) {
	c.current = p
	c.lastTransition = c.now()
}
