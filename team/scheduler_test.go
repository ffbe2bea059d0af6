package team

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/kinos-ai/kinos/agent"
	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/internal/retry"
	"github.com/kinos-ai/kinos/phase"
	"github.com/kinos-ai/kinos/types"
)

type stubInvoker struct{}

func (stubInvoker) Execute(ctx context.Context, instructions string, files []string) (string, error) {
	return "done", nil
}

func testConfig() config.Config {
	cfg := *config.DefaultConfig()
	cfg.Agent.BaseInterval = 5 * time.Millisecond
	cfg.Agent.MaxInterval = 20 * time.Millisecond
	cfg.Agent.StopTimeout = time.Second
	cfg.RateLimit.MaxRequests = 10_000
	cfg.Scheduler.SubmitDelay = time.Millisecond
	cfg.Scheduler.PollTimeout = 50 * time.Millisecond
	return cfg
}

func identities(names ...string) []types.AgentIdentity {
	out := make([]types.AgentIdentity, 0, len(names))
	for _, n := range names {
		out = append(out, types.AgentIdentity{Name: n, Kind: types.KindEditing, Weight: types.DefaultWeight})
	}
	return out
}

func newTestScheduler(t *testing.T, cfg config.Config, teams []types.TeamConfig, probe func(ctx context.Context, h *agent.Handle) error) (*Scheduler, *agent.Registry) {
	t.Helper()

	opts := []agent.Option{
		agent.WithStartPolicy(retry.Policy{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   2.0,
		}),
	}
	if probe != nil {
		opts = append(opts, agent.WithStartProbe(probe))
	}
	reg := agent.NewRegistry(cfg, stubInvoker{}, nil, nil, zap.NewNop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reg.Close(ctx)
	})

	calc := phase.NewCalculator(cfg.Phase, nil, zap.NewNop())
	s := NewScheduler(cfg, teams, reg, calc, nil, nil, zap.NewNop())
	s.shuffle = func([]types.AgentIdentity) {}
	return s, reg
}

func TestStartTeamUnknown(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{
		{ID: "core", Name: "Core", Agents: identities("alpha")},
	}, nil)

	_, err := s.StartTeam(context.Background(), "missing", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrTeamNotFound, types.GetErrorCode(err))
}

func TestStartTeamResolvesNormalizedID(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{
		{ID: "core-team", Name: "Core", Agents: identities("alpha")},
	}, nil)

	summary, err := s.StartTeam(context.Background(), "Core_Team", "")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStarted, summary.Status)
	assert.Equal(t, "core-team", summary.TeamID)
	assert.NotEmpty(t, summary.RunID)
}

func TestStartTeamConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	probe := func(ctx context.Context, h *agent.Handle) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{
		{ID: "big", Name: "Big", Agents: identities("a1", "a2", "a3", "a4", "a5")},
	}, probe)

	summary, err := s.StartTeam(context.Background(), "big", "")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStarted, summary.Status)
	assert.Len(t, summary.StartedAgents, 5)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestStartTeamPhaseFiltering(t *testing.T) {
	team := types.TeamConfig{
		ID:     "mixed",
		Name:   "Mixed",
		Agents: identities("alpha", "beta", "gamma", "delta"),
		PhaseConfig: types.PhaseConfig{
			types.PhaseExpansion: {
				{Name: "alpha", Weight: 0.9},
				{Name: "gamma", Weight: 0.1},
			},
		},
	}

	s, reg := newTestScheduler(t, testConfig(), []types.TeamConfig{team}, nil)

	summary, err := s.StartTeam(context.Background(), "mixed", "")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStarted, summary.Status)
	assert.ElementsMatch(t, []string{"alpha", "gamma"}, summary.StartedAgents)
	assert.Equal(t, types.PhaseExpansion, summary.Phase)

	// Agents outside the phase roster were never registered.
	_, err = reg.Status("beta")
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
}

func TestStartTeamNoAgentsForPhase(t *testing.T) {
	team := types.TeamConfig{
		ID:     "idle",
		Name:   "Idle",
		Agents: identities("alpha"),
		PhaseConfig: types.PhaseConfig{
			types.PhaseExpansion: {{Name: "other", Weight: 0.5}},
		},
	}

	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{team}, nil)

	summary, err := s.StartTeam(context.Background(), "idle", "")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusNoAgentsForPhase, summary.Status)
	assert.Empty(t, summary.StartedAgents)
}

func TestStartTeamInitializationFailed(t *testing.T) {
	team := types.TeamConfig{
		ID:     "broken",
		Name:   "Broken",
		Agents: []types.AgentIdentity{{Name: "  ", Kind: types.KindEditing}},
	}

	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{team}, nil)

	summary, err := s.StartTeam(context.Background(), "broken", "")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusInitFailed, summary.Status)
}

func TestStartTeamRequeuesFailedStartOnce(t *testing.T) {
	var mu sync.Mutex
	attempts := make(map[string]int)
	probe := func(ctx context.Context, h *agent.Handle) error {
		mu.Lock()
		defer mu.Unlock()
		name := h.Identity().Name
		attempts[name]++
		if name == "flaky" {
			return assert.AnError
		}
		return nil
	}

	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{
		{ID: "retry", Name: "Retry", Agents: identities("steady", "flaky")},
	}, probe)

	summary, err := s.StartTeam(context.Background(), "retry", "")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStarted, summary.Status)
	assert.Equal(t, []string{"steady"}, summary.StartedAgents)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts["flaky"])
	assert.Equal(t, 1, attempts["steady"])
}

func TestStartTeamAllFailed(t *testing.T) {
	probe := func(ctx context.Context, h *agent.Handle) error {
		return assert.AnError
	}

	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{
		{ID: "doomed", Name: "Doomed", Agents: identities("alpha", "beta")},
	}, probe)

	summary, err := s.StartTeam(context.Background(), "doomed", "")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, summary.Status)
	assert.Empty(t, summary.StartedAgents)
}

func TestStartTeamInterruptStopsInReverseOrder(t *testing.T) {
	gammaProbed := make(chan struct{})
	var gammaOnce sync.Once
	probe := func(ctx context.Context, h *agent.Handle) error {
		if h.Identity().Name != "gamma" {
			return nil
		}
		gammaOnce.Do(func() { close(gammaProbed) })
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := testConfig()
	cfg.Scheduler.MaxConcurrent = 2
	cfg.Scheduler.PollTimeout = 20 * time.Millisecond

	s, _ := newTestScheduler(t, cfg, []types.TeamConfig{
		{ID: "run", Name: "Run", Agents: identities("alpha", "beta", "gamma")},
	}, probe)

	var mu sync.Mutex
	var stopped []string
	realStop := s.stopAgent
	s.stopAgent = func(ctx context.Context, name string) bool {
		mu.Lock()
		stopped = append(stopped, name)
		mu.Unlock()
		return realStop(ctx, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-gammaProbed
		cancel()
	}()

	summary, err := s.StartTeam(ctx, "run", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrRunInterrupted, types.GetErrorCode(err))
	assert.Equal(t, types.RunStatusFailed, summary.Status)
	require.Len(t, summary.StartedAgents, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stopped, 2)
	assert.Equal(t, summary.StartedAgents[1], stopped[0])
	assert.Equal(t, summary.StartedAgents[0], stopped[1])
}

func TestTeamsSorted(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{
		{ID: "zeta", Agents: identities("a")},
		{ID: "alpha", Agents: identities("a")},
	}, nil)

	teams := s.Teams()
	require.Len(t, teams, 2)
	assert.Equal(t, "alpha", teams[0].ID)
	assert.Equal(t, "zeta", teams[1].ID)
}

func TestTeamStatusCounts(t *testing.T) {
	team := types.TeamConfig{ID: "core", Name: "Core", Agents: identities("alpha", "beta")}
	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{team}, nil)

	summary, err := s.StartTeam(context.Background(), "core", "")
	require.NoError(t, err)
	require.Equal(t, types.RunStatusStarted, summary.Status)

	st, err := s.Status("core")
	require.NoError(t, err)
	assert.Equal(t, "core", st.TeamID)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 2, st.Healthy)
	assert.InDelta(t, 1.0, st.Efficiency, 0.001)

	require.NoError(t, s.StopTeam(context.Background(), "core"))
	st, err = s.Status("core")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Active)
}

func TestStartTeamEmitsRunSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	s, _ := newTestScheduler(t, testConfig(), []types.TeamConfig{
		{ID: "traced", Name: "Traced", Agents: identities("alpha")},
	}, nil)

	summary, err := s.StartTeam(context.Background(), "traced", "")
	require.NoError(t, err)
	require.Equal(t, types.RunStatusStarted, summary.Status)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "team.run", spans[0].Name)

	attrs := make(map[attribute.Key]attribute.Value, len(spans[0].Attributes))
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "traced", attrs["team.id"].AsString())
	assert.Equal(t, summary.RunID, attrs["run.id"].AsString())
	assert.Equal(t, string(types.RunStatusStarted), attrs["run.status"].AsString())
	assert.Equal(t, int64(1), attrs["agents.started"].AsInt64())
}

func TestStatusUnknownTeam(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(), nil, nil)
	_, err := s.Status("nope")
	assert.Equal(t, types.ErrTeamNotFound, types.GetErrorCode(err))
}
