// Package team runs named agent teams: phase-aware filtering plus a
// concurrency-bounded, randomized admission loop.
package team

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kinos-ai/kinos/agent"
	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/internal/metrics"
	"github.com/kinos-ai/kinos/internal/pool"
	"github.com/kinos-ai/kinos/phase"
	"github.com/kinos-ai/kinos/types"
)

// tracerName scopes the spans emitted around team runs.
const tracerName = "github.com/kinos-ai/kinos/team"

// Footprint measures the mission's current token footprint, feeding the
// phase calculator before each run.
type Footprint func(ctx context.Context) (int64, error)

// Scheduler starts teams and keeps a bounded number of their agents
// active, refilling slots from a waiting pool as start attempts finish.
type Scheduler struct {
	teams     []types.TeamConfig
	registry  *agent.Registry
	phases    *phase.Calculator
	footprint Footprint

	cfg       config.SchedulerConfig
	workspace string
	collector *metrics.Collector
	logger    *zap.Logger

	// newRunID, shuffle and stopAgent are swappable for tests.
	newRunID  func() string
	shuffle   func([]types.AgentIdentity)
	stopAgent func(ctx context.Context, name string) bool
}

// NewScheduler creates a scheduler over a fixed set of team definitions.
// The footprint function may be nil, in which case phase is computed from
// the calculator's stored state. The collector may be nil.
func NewScheduler(cfg config.Config, teams []types.TeamConfig, registry *agent.Registry, phases *phase.Calculator, footprint Footprint, collector *metrics.Collector, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		teams:     teams,
		registry:  registry,
		phases:    phases,
		footprint: footprint,
		cfg:       cfg.Scheduler,
		workspace: cfg.Workspace,
		collector: collector,
		logger:    logger.With(zap.String("component", "scheduler")),
		newRunID:  uuid.NewString,
		stopAgent: registry.Stop,
		shuffle: func(agents []types.AgentIdentity) {
			rand.Shuffle(len(agents), func(i, j int) {
				agents[i], agents[j] = agents[j], agents[i]
			})
		},
	}
}

// Teams returns the available team definitions sorted by ID.
func (s *Scheduler) Teams() []types.TeamConfig {
	out := make([]types.TeamConfig, len(s.teams))
	copy(out, s.teams)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TeamStatus reports per-agent status and aggregate counts for one team.
type TeamStatus struct {
	TeamID     string                       `json:"team_id"`
	Name       string                       `json:"name"`
	Phase      types.Phase                  `json:"phase"`
	Agents     map[string]types.AgentStatus `json:"agents"`
	Total      int                          `json:"total"`
	Active     int                          `json:"active"`
	Healthy    int                          `json:"healthy"`
	Efficiency float64                      `json:"efficiency"`
}

// Status returns the current status of one team's agents.
func (s *Scheduler) Status(teamID string) (TeamStatus, error) {
	team, err := s.resolve(teamID)
	if err != nil {
		return TeamStatus{}, err
	}

	st := TeamStatus{
		TeamID: team.ID,
		Name:   team.Name,
		Phase:  s.phases.Current(),
		Agents: make(map[string]types.AgentStatus, len(team.Agents)),
		Total:  len(team.Agents),
	}
	for _, ident := range team.Agents {
		as, err := s.registry.Status(ident.Name)
		if err != nil {
			// Not yet registered: report as stopped.
			as = types.AgentStatus{Name: ident.Name, State: agent.StateStopped}
		}
		st.Agents[ident.Name] = as
		if as.Running {
			st.Active++
		}
		if as.Health.IsHealthy {
			st.Healthy++
		}
	}
	if st.Total > 0 {
		healthScore := float64(st.Healthy) / float64(st.Total)
		activeScore := float64(st.Active) / float64(st.Total)
		st.Efficiency = 0.6*healthScore + 0.4*activeScore
	}
	return st, nil
}

// StopTeam stops every agent of the team in reverse roster order.
func (s *Scheduler) StopTeam(ctx context.Context, teamID string) error {
	team, err := s.resolve(teamID)
	if err != nil {
		return err
	}
	for i := len(team.Agents) - 1; i >= 0; i-- {
		s.stopAgent(ctx, team.Agents[i].Name)
	}
	return nil
}

func (s *Scheduler) resolve(teamID string) (types.TeamConfig, error) {
	want := types.NormalizeTeamID(teamID)
	for _, t := range s.teams {
		if types.NormalizeTeamID(t.ID) == want {
			return t, nil
		}
	}
	available := make([]string, 0, len(s.teams))
	for _, t := range s.teams {
		available = append(available, t.ID)
	}
	return types.TeamConfig{}, types.NewError(types.ErrTeamNotFound,
		fmt.Sprintf("team %q not found, available: %v", teamID, available)).WithTeam(want)
}

// StartTeam runs the admission loop for one team. Expected conditions
// (empty phase roster, initialization failure) come back as a RunSummary
// status, not an error; only configuration problems and unexpected internal
// errors return a non-nil error, and in that case every agent this run
// started has already been stopped again, in reverse start order.
func (s *Scheduler) StartTeam(ctx context.Context, teamID, basePath string) (summary types.RunSummary, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "team.run")
	defer func() {
		span.SetAttributes(
			attribute.String("run.status", string(summary.Status)),
			attribute.Int("agents.started", len(summary.StartedAgents)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "team run failed")
		}
		span.End()
	}()

	team, err := s.resolve(teamID)
	if err != nil {
		return types.RunSummary{}, err
	}

	workspace := basePath
	if workspace == "" {
		workspace = s.workspace
	}

	summary = types.RunSummary{
		RunID:     s.newRunID(),
		TeamID:    team.ID,
		Workspace: workspace,
	}
	span.SetAttributes(
		attribute.String("run.id", summary.RunID),
		attribute.String("team.id", team.ID),
	)
	logger := s.logger.With(
		zap.String("run_id", summary.RunID),
		zap.String("team", team.ID),
	)

	currentPhase := s.computePhase(ctx, logger)
	summary.Phase = currentPhase
	span.SetAttributes(attribute.String("run.phase", string(currentPhase)))

	roster := s.filterByPhase(team, currentPhase)
	if len(roster) == 0 {
		logger.Warn("no agents available for phase",
			zap.String("phase", string(currentPhase)),
			zap.Int("team_size", len(team.Agents)),
		)
		summary.Status = types.RunStatusNoAgentsForPhase
		s.recordRun(team.ID, summary.Status)
		return summary, nil
	}

	if err := s.registerRoster(roster); err != nil {
		logger.Error("agent initialization failed", zap.Error(err))
		summary.Status = types.RunStatusInitFailed
		s.recordRun(team.ID, summary.Status)
		return summary, nil
	}

	started, err := s.admit(ctx, roster, logger)
	summary.StartedAgents = started
	if err != nil {
		// Never leave the system half-started: unwind in reverse order.
		s.stopReverse(started, logger)
		summary.Status = types.RunStatusFailed
		s.recordRun(team.ID, summary.Status)
		return summary, err
	}

	if len(started) > 0 {
		summary.Status = types.RunStatusStarted
	} else {
		summary.Status = types.RunStatusFailed
	}
	s.recordRun(team.ID, summary.Status)

	logger.Info("team run finished",
		zap.String("status", string(summary.Status)),
		zap.Strings("started", started),
	)
	return summary, nil
}

func (s *Scheduler) computePhase(ctx context.Context, logger *zap.Logger) types.Phase {
	if s.footprint == nil {
		return s.phases.Current()
	}

	total, err := s.footprint(ctx)
	if err != nil {
		logger.Warn("token footprint unavailable, keeping stored phase", zap.Error(err))
		return s.phases.Current()
	}

	p, msg, err := s.phases.DeterminePhase(total)
	if err != nil {
		// Fail closed: the calculator already fell back to EXPANSION.
		logger.Error("phase computation failed", zap.Error(err))
		return p
	}

	st := s.phases.StatusInfo()
	logger.Info("phase status",
		zap.String("phase", string(p)),
		zap.Int64("total_tokens", st.TotalTokens),
		zap.Float64("usage_percent", st.UsagePercent),
		zap.Int64("headroom", st.Headroom),
		zap.String("status", msg),
	)
	return p
}

// filterByPhase selects the team agents active in the given phase. With no
// phase-specific configuration the full roster runs; phase entries override
// the per-agent weight.
func (s *Scheduler) filterByPhase(team types.TeamConfig, p types.Phase) []types.AgentIdentity {
	active := team.PhaseConfig.ActiveFor(p)
	if active == nil {
		out := make([]types.AgentIdentity, len(team.Agents))
		copy(out, team.Agents)
		return out
	}

	overrides := make(map[string]float64, len(active))
	for _, a := range active {
		overrides[a.Name] = a.Weight
	}

	var out []types.AgentIdentity
	for _, ident := range team.Agents {
		if w, ok := overrides[ident.Name]; ok {
			ident.Weight = w
			out = append(out, ident)
		}
	}
	return out
}

func (s *Scheduler) registerRoster(roster []types.AgentIdentity) error {
	for _, ident := range roster {
		if err := s.registry.Register(ident); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) stopReverse(started []string, logger *zap.Logger) {
	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		if !s.stopAgent(context.Background(), name) {
			logger.Warn("cleanup could not stop agent", zap.String("agent", name))
		}
	}
}

func (s *Scheduler) recordRun(teamID string, status types.RunStatus) {
	if s.collector != nil {
		s.collector.RecordTeamRun(teamID, string(status))
	}
}

// startResult is one completed admission attempt.
type startResult struct {
	name string
	ok   bool
}

// admit runs the admission loop: agents move from the waiting set to the
// active set (≤ MaxConcurrent start attempts in flight), with a fixed delay
// between submissions and a bounded wait for the first completion. A failed
// start is retried through one more admission cycle, then dropped.
func (s *Scheduler) admit(ctx context.Context, roster []types.AgentIdentity, logger *zap.Logger) ([]string, error) {
	waiting := make([]types.AgentIdentity, len(roster))
	copy(waiting, roster)
	s.shuffle(waiting)

	workers := pool.New(pool.Config{
		MaxWorkers: s.cfg.MaxConcurrent,
		QueueSize:  len(waiting),
		PanicHandler: func(v any) {
			logger.Error("admission task panicked", zap.Any("panic", v))
		},
	})
	defer workers.Close()

	results := make(chan startResult, len(waiting)*2)
	attempts := make(map[string]int, len(waiting))
	active := 0
	var started []string

	submit := func(ident types.AgentIdentity) error {
		name := ident.Name
		attempts[name]++
		logger.Info("starting agent",
			zap.String("agent", name),
			zap.Int("attempt", attempts[name]),
		)
		waitStart := time.Now()
		_, err := workers.Submit(ctx, func(taskCtx context.Context) error {
			ok := s.registry.Start(taskCtx, name)
			results <- startResult{name: name, ok: ok}
			return nil
		})
		if err != nil {
			return err
		}
		if s.collector != nil {
			s.collector.RecordAdmissionWait(time.Since(waitStart))
		}
		active++
		return nil
	}

	interrupted := false
	for len(waiting) > 0 || active > 0 {
		if ctx.Err() != nil && !interrupted {
			// Admit no further agents; drain what is already in flight.
			interrupted = true
			waiting = nil
		}

		// Fill free slots from the waiting set.
		for active < s.cfg.MaxConcurrent && len(waiting) > 0 {
			next := waiting[0]
			waiting = waiting[1:]
			if err := submit(next); err != nil {
				interrupted = true
				waiting = nil
				break
			}
			if len(waiting) > 0 && active < s.cfg.MaxConcurrent {
				if !sleepCtx(ctx, s.cfg.SubmitDelay) {
					interrupted = true
					waiting = nil
					break
				}
			}
		}

		if active == 0 {
			continue
		}

		// Wait for at least one completion, bounded by the poll timeout.
		select {
		case res := <-results:
			active--
			if res.ok {
				started = append(started, res.name)
			} else if !interrupted && attempts[res.name] < 2 {
				logger.Warn("agent start failed, requeueing once",
					zap.String("agent", res.name))
				waiting = append(waiting, identityFor(roster, res.name))
			} else {
				logger.Warn("agent start failed, dropping from run",
					zap.String("agent", res.name))
			}
		case <-time.After(s.cfg.PollTimeout):
			// No completion within the window; loop and re-check.
		}
	}

	if interrupted && ctx.Err() != nil {
		return started, types.NewError(types.ErrRunInterrupted, "team run interrupted").WithCause(ctx.Err())
	}
	return started, nil
}

// identityFor finds the roster identity for a requeued agent.
func identityFor(roster []types.AgentIdentity, name string) types.AgentIdentity {
	for _, ident := range roster {
		if ident.Name == name {
			return ident
		}
	}
	return types.AgentIdentity{Name: name, Kind: types.KindEditing, Weight: types.DefaultWeight}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
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
