package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TeamsDir:  "teams",
		Workspace: ".",
		Phase:     DefaultPhaseConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Health:    DefaultHealthConfig(),
		Agent:     DefaultAgentConfig(),
		LLM:       DefaultLLMConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultPhaseConfig returns the default phase thresholds.
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		TokenLimit:           128_000,
		ConvergenceThreshold: 0.60,
		ExpansionThreshold:   0.50,
	}
}

// DefaultRateLimitConfig returns the default per-agent limiter settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 50,
		Window:      60 * time.Second,
	}
}

// DefaultSchedulerConfig returns the default team run settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrent: 3,
		SubmitDelay:   5 * time.Second,
		PollTimeout:   10 * time.Second,
	}
}

// DefaultHealthConfig returns the default health monitor settings.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		MonitorInterval:      30 * time.Second,
		DegradationThreshold: 0.7,
		CacheHitThreshold:    0.7,
		ErrorLimit:           5,
		NoChangeLimit:        5,
	}
}

// DefaultAgentConfig returns the default per-agent run settings.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxStartRetries: 3,
		StopTimeout:     30 * time.Second,
		BaseInterval:    60 * time.Second,
		MaxInterval:     10 * time.Minute,
	}
}

// DefaultLLMConfig returns the default model client settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:      "gpt-4",
		Timeout:    2 * time.Minute,
		RequestsPS: 2,
		Burst:      4,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultMetricsConfig returns the default metrics settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    true,
		Namespace:  "kinos",
		ListenAddr: ":9091",
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "kinos",
		SampleRate:   1.0,
	}
}
