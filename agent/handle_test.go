package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/types"
)

func testHandle() *Handle {
	cfg := *config.DefaultConfig()
	cfg.Agent.BaseInterval = time.Minute
	cfg.Agent.MaxInterval = 10 * time.Minute
	return newHandle(types.AgentIdentity{Name: "planner", Kind: types.KindEditing, Weight: 0.5}, cfg, nil)
}

func TestDynamicIntervalBacksOff(t *testing.T) {
	h := testHandle()

	assert.Equal(t, time.Minute, h.DynamicInterval())

	now := time.Now()
	h.recordRun(false, now)
	assert.Equal(t, 2*time.Minute, h.DynamicInterval())
	h.recordRun(false, now)
	assert.Equal(t, 4*time.Minute, h.DynamicInterval())
	h.recordRun(false, now)
	assert.Equal(t, 8*time.Minute, h.DynamicInterval())

	// Capped at the maximum.
	h.recordRun(false, now)
	assert.Equal(t, 10*time.Minute, h.DynamicInterval())
	h.recordRun(false, now)
	assert.Equal(t, 10*time.Minute, h.DynamicInterval())
}

func TestDynamicIntervalResetsOnChange(t *testing.T) {
	h := testHandle()
	now := time.Now()

	h.recordRun(false, now)
	h.recordRun(false, now)
	assert.Equal(t, 4*time.Minute, h.DynamicInterval())

	h.recordRun(true, now)
	assert.Equal(t, time.Minute, h.DynamicInterval())
}

func TestRecordRunTimestamps(t *testing.T) {
	h := testHandle()
	now := time.Now()

	h.recordRun(false, now)
	st := h.snapshot(5, 5)
	assert.NotNil(t, st.LastRun)
	assert.Nil(t, st.LastChange)

	later := now.Add(time.Minute)
	h.recordRun(true, later)
	st = h.snapshot(5, 5)
	assert.Equal(t, later, *st.LastChange)
	assert.Equal(t, 0, st.Health.ConsecutiveNoChanges)
}

func TestHealthThresholds(t *testing.T) {
	h := testHandle()
	now := time.Now()

	assert.True(t, h.healthy(5, 5))

	for i := 0; i < 5; i++ {
		h.recordRun(false, now)
	}
	assert.True(t, h.healthy(5, 5), "at the threshold the agent is still healthy")

	h.recordRun(false, now)
	assert.False(t, h.healthy(5, 5))

	h.recordRun(true, now)
	assert.True(t, h.healthy(5, 5))

	for i := 0; i < 6; i++ {
		h.recordError()
	}
	assert.False(t, h.healthy(5, 5))
}

func TestMarkErrorIsUnhealthyRegardlessOfCounters(t *testing.T) {
	h := testHandle()
	h.markError()
	assert.False(t, h.healthy(100, 100))
	assert.Equal(t, StateError, h.snapshot(100, 100).State)

	h.resetErrors()
	assert.True(t, h.healthy(5, 5))
	assert.Equal(t, StateStopped, h.snapshot(5, 5).State)
}
