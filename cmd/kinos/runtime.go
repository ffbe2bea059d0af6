package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kinos-ai/kinos/agent"
	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/internal/metrics"
	"github.com/kinos-ai/kinos/internal/telemetry"
	"github.com/kinos-ai/kinos/phase"
	"github.com/kinos-ai/kinos/team"
	"github.com/kinos-ai/kinos/token"
	"github.com/kinos-ai/kinos/tool"
)

// runtime wires the orchestrator together: config, logging, telemetry,
// metrics, tooling, the agent registry and the team scheduler.
type runtime struct {
	cfg       config.Config
	logger    *zap.Logger
	providers *telemetry.Providers
	collector *metrics.Collector
	registry  *agent.Registry
	phases    *phase.Calculator
	scheduler *team.Scheduler
	counter   token.Counter

	metricsSrv *http.Server
}

// newRuntime builds the full orchestrator from configuration.
func newRuntime(cfg config.Config, logger *zap.Logger) (*runtime, error) {
	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry unavailable", zap.Error(err))
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer, logger)
	}

	counter := token.NewTiktokenCounter(cfg.LLM.Model)

	invoker := tool.NewCommandInvoker("aider", []string{"--yes"}, cfg.Workspace, collector, logger)

	var llm tool.LLMClient
	if cfg.LLM.APIKey != "" {
		llm = tool.NewHTTPClient(cfg.LLM, logger)
	} else {
		logger.Warn("no LLM API key configured, research agents run without generated instructions")
	}

	registry := agent.NewRegistry(cfg, invoker, llm, collector, logger)
	phases := phase.NewCalculator(cfg.Phase, collector, logger)

	teams, err := config.LoadTeams(cfg.TeamsDir)
	if err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		logger.Warn("no team definitions found", zap.String("dir", cfg.TeamsDir))
	}

	footprint := func(ctx context.Context) (int64, error) {
		return token.MeasureDir(ctx, cfg.Workspace, counter)
	}

	scheduler := team.NewScheduler(cfg, teams, registry, phases, footprint, collector, logger)

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		collector: collector,
		registry:  registry,
		phases:    phases,
		scheduler: scheduler,
		counter:   counter,
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != "" {
		rt.serveMetrics()
	}
	return rt, nil
}

func (rt *runtime) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		m := rt.registry.SystemMetrics()
		score := rt.registry.ComputeSystemHealth(m)
		w.Header().Set("Content-Type", "text/plain")
		if m.TotalAgents > 0 && score < rt.cfg.Health.DegradationThreshold {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "health %.2f agents %d/%d\n", score, m.ActiveAgents, m.TotalAgents)
	})

	rt.metricsSrv = &http.Server{
		Addr:              rt.cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		rt.logger.Info("metrics listener started", zap.String("addr", rt.cfg.Metrics.ListenAddr))
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// close shuts the orchestrator down: agents first, then the metrics
// listener and telemetry exporters.
func (rt *runtime) close(ctx context.Context) {
	rt.registry.Close(ctx)

	if rt.metricsSrv != nil {
		if err := rt.metricsSrv.Shutdown(ctx); err != nil {
			rt.logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}
	if rt.providers != nil {
		if err := rt.providers.Shutdown(ctx); err != nil {
			rt.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
