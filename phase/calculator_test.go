package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/types"
)

func newCalculator() *Calculator {
	return NewCalculator(config.DefaultPhaseConfig(), nil, zap.NewNop())
}

func newObservedCalculator() (*Calculator, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return NewCalculator(config.DefaultPhaseConfig(), nil, zap.New(core)), logs
}

func TestStartsInExpansion(t *testing.T) {
	c := newCalculator()
	assert.Equal(t, types.PhaseExpansion, c.Current())
}

func TestCrossesIntoConvergence(t *testing.T) {
	c := newCalculator()

	// 60% of 128,000.
	p, _, err := c.DeterminePhase(76_800)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseConvergence, p)
}

func TestStaysBelowUpperThreshold(t *testing.T) {
	c := newCalculator()

	p, _, err := c.DeterminePhase(76_799)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseExpansion, p)
}

func TestHysteresisBandIsSticky(t *testing.T) {
	c := newCalculator()

	_, _, err := c.DeterminePhase(80_000) // 62.5% -> CONVERGENCE
	require.NoError(t, err)

	// 55% sits between the thresholds: the phase must not flip back.
	p, _, err := c.DeterminePhase(70_400)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseConvergence, p)

	// Below 50% it returns to EXPANSION.
	p, _, err = c.DeterminePhase(63_999)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseExpansion, p)
}

func TestDeterminePhaseIdempotent(t *testing.T) {
	c, logs := newObservedCalculator()

	_, _, err := c.DeterminePhase(80_000)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("phase transition").Len())

	// Recomputing with the same count changes nothing and logs nothing.
	p, _, err := c.DeterminePhase(80_000)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseConvergence, p)
	assert.Equal(t, 1, logs.FilterMessage("phase transition").Len())
}

func TestFailsClosedOnBadBudget(t *testing.T) {
	cfg := config.DefaultPhaseConfig()
	cfg.TokenLimit = 0
	c := NewCalculator(cfg, nil, zap.NewNop())

	p, msg, err := c.DeterminePhase(10_000)
	require.Error(t, err)
	assert.Equal(t, types.PhaseExpansion, p)
	assert.NotEmpty(t, msg)
	assert.Equal(t, types.ErrPhaseComputation, types.GetErrorCode(err))
}

func TestNegativeTokensClampedToZero(t *testing.T) {
	c := newCalculator()
	p, _, err := c.DeterminePhase(-5)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseExpansion, p)
	assert.Equal(t, int64(0), c.StatusInfo().TotalTokens)
}

func TestForcePhase(t *testing.T) {
	c, logs := newObservedCalculator()

	c.ForcePhase(types.PhaseConvergence)
	assert.Equal(t, types.PhaseConvergence, c.Current())
	assert.Equal(t, 1, logs.FilterMessage("phase forced").Len())

	// Forcing the current phase is a no-op.
	c.ForcePhase(types.PhaseConvergence)
	assert.Equal(t, 1, logs.FilterMessage("phase forced").Len())
}

func TestStatusInfoHeadroom(t *testing.T) {
	c := newCalculator()

	_, _, err := c.DeterminePhase(50_000)
	require.NoError(t, err)
	st := c.StatusInfo()
	assert.Equal(t, types.PhaseExpansion, st.Phase)
	// Headroom to the convergence trigger: 76,800 - 50,000.
	assert.Equal(t, int64(26_800), st.Headroom)

	_, _, err = c.DeterminePhase(100_000)
	require.NoError(t, err)
	st = c.StatusInfo()
	assert.Equal(t, types.PhaseConvergence, st.Phase)
	// Headroom to the full budget: 128,000 - 100,000.
	assert.Equal(t, int64(28_000), st.Headroom)
	assert.InDelta(t, 78.1, st.UsagePercent, 0.1)
}

func TestPhaseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := newCalculator()
		limit := float64(128_000)

		var prev = types.PhaseExpansion
		counts := rapid.SliceOfN(rapid.Int64Range(0, 200_000), 1, 50).Draw(t, "counts")
		for _, n := range counts {
			p, _, err := c.DeterminePhase(n)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			usage := float64(n) / limit
			switch {
			case usage >= 0.60:
				if p != types.PhaseConvergence {
					t.Fatalf("usage %.2f should force CONVERGENCE, got %s", usage, p)
				}
			case usage < 0.50:
				if p != types.PhaseExpansion {
					t.Fatalf("usage %.2f should force EXPANSION, got %s", usage, p)
				}
			default:
				if p != prev {
					t.Fatalf("usage %.2f inside band must keep %s, got %s", usage, prev, p)
				}
			}
			prev = p
		}
	})
}

func TestThresholdFieldMapping(t *testing.T) {
	// Non-default thresholds: the convergence field is the entry trigger
	// and the expansion field is the release point.
	cfg := config.PhaseConfig{
		TokenLimit:           1000,
		ConvergenceThreshold: 0.8,
		ExpansionThreshold:   0.4,
	}
	c := NewCalculator(cfg, nil, zap.NewNop())

	p, _, err := c.DeterminePhase(800)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseConvergence, p)

	// 50% sits in the sticky band and keeps CONVERGENCE.
	p, _, err = c.DeterminePhase(500)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseConvergence, p)

	p, _, err = c.DeterminePhase(399)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseExpansion, p)
}
