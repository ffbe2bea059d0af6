// kinos is the agent orchestrator entry point.
//
// Usage:
//
//	kinos start <team>               # run a team until interrupted
//	kinos teams                      # list available teams
//	kinos status <team>              # show a team's agent status
//	kinos phase                      # show the current phase status
//	kinos version                    # show version information
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kinos-ai/kinos/agent"
	"github.com/kinos-ai/kinos/config"
	"github.com/kinos-ai/kinos/phase"
	"github.com/kinos-ai/kinos/team"
	"github.com/kinos-ai/kinos/token"
	"github.com/kinos-ai/kinos/tool"
	"github.com/kinos-ai/kinos/types"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "teams":
		runTeams(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "phase":
		runPhase(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) config.Config {
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return *cfg
}

func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	workspace := fs.String("workspace", "", "Mission workspace (overrides config)")
	cfg := loadConfig(fs, args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kinos start [options] <team>")
		os.Exit(1)
	}
	teamID := fs.Arg(0)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting kinos",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		logger.Fatal("initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.registry.StartMonitor()

	summary, err := rt.scheduler.StartTeam(ctx, teamID, *workspace)
	if err != nil {
		logger.Error("team run failed", zap.Error(err))
		shutdown(rt, logger)
		os.Exit(1)
	}
	if summary.Status != types.RunStatusStarted {
		logger.Warn("team did not start",
			zap.String("team", summary.TeamID),
			zap.String("status", string(summary.Status)),
		)
		shutdown(rt, logger)
		os.Exit(1)
	}

	logger.Info("team running",
		zap.String("run_id", summary.RunID),
		zap.Strings("agents", summary.StartedAgents),
		zap.String("phase", string(summary.Phase)),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	shutdown(rt, logger)
}

func shutdown(rt *runtime, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	rt.close(ctx)
	logger.Info("kinos stopped")
}

func runTeams(args []string) {
	fs := flag.NewFlagSet("teams", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	teams, err := config.LoadTeams(cfg.TeamsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load teams: %v\n", err)
		os.Exit(1)
	}
	if len(teams) == 0 {
		fmt.Printf("No teams found in %s\n", cfg.TeamsDir)
		return
	}
	for _, t := range teams {
		fmt.Printf("%-20s %-24s %d agents\n", t.ID, t.Name, len(t.Agents))
		for _, a := range t.Agents {
			fmt.Printf("  %-18s %-10s weight %.2f\n", a.Name, a.Kind, a.Weight)
		}
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kinos status [options] <team>")
		os.Exit(1)
	}
	teamID := fs.Arg(0)

	logger := zap.NewNop()
	teams, err := config.LoadTeams(cfg.TeamsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load teams: %v\n", err)
		os.Exit(1)
	}

	invoker := tool.NewCommandInvoker("aider", []string{"--yes"}, cfg.Workspace, nil, logger)
	registry := agent.NewRegistry(cfg, invoker, nil, nil, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		registry.Close(ctx)
	}()

	calc := phase.NewCalculator(cfg.Phase, nil, logger)
	scheduler := team.NewScheduler(cfg, teams, registry, calc, nil, nil, logger)

	st, err := scheduler.Status(teamID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encoding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func runPhase(args []string) {
	fs := flag.NewFlagSet("phase", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	logger := zap.NewNop()
	counter := token.NewTiktokenCounter(cfg.LLM.Model)
	calc := phase.NewCalculator(cfg.Phase, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	total, err := token.MeasureDir(ctx, cfg.Workspace, counter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Token measurement failed: %v\n", err)
		os.Exit(1)
	}
	if _, _, err := calc.DeterminePhase(total); err != nil {
		fmt.Fprintf(os.Stderr, "Phase computation degraded: %v\n", err)
	}

	st := calc.StatusInfo()
	fmt.Printf("Phase:      %s\n", st.Phase)
	fmt.Printf("Tokens:     %d / %d\n", st.TotalTokens, cfg.Phase.TokenLimit)
	fmt.Printf("Usage:      %.1f%%\n", st.UsagePercent)
	fmt.Printf("Headroom:   %d\n", st.Headroom)
	fmt.Printf("Status:     %s\n", st.StatusMessage)
}

func printVersion() {
	fmt.Printf("kinos %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`kinos - agent team orchestrator

Usage:
  kinos <command> [options]

Commands:
  start     Start a team and run until interrupted
  teams     List available team definitions
  status    Show a team's agent status
  phase     Show the current phase status
  version   Show version information
  help      Show this help message

Common options:
  --config <path>      Path to configuration file (YAML)

Options for 'start':
  --workspace <path>   Mission workspace (overrides config)

Examples:
  kinos start core-team
  kinos start --config /etc/kinos/config.yaml core-team
  kinos teams
  kinos status core-team
  kinos phase`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
