// Package config provides unified configuration loading: defaults, then a
// YAML file, then environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("kinos.yaml").
//	    WithEnvPrefix("KINOS").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full orchestrator configuration.
type Config struct {
	// TeamsDir is the directory holding per-team YAML files.
	TeamsDir string `yaml:"teams_dir" env:"TEAMS_DIR"`

	// Workspace is the default mission workspace path.
	Workspace string `yaml:"workspace" env:"WORKSPACE"`

	Phase     PhaseConfig     `yaml:"phase" env:"PHASE"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`
	Health    HealthConfig    `yaml:"health" env:"HEALTH"`
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// PhaseConfig controls phase determination.
type PhaseConfig struct {
	// TokenLimit is the total token budget of the mission context.
	TokenLimit int64 `yaml:"token_limit" env:"TOKEN_LIMIT"`
	// ConvergenceThreshold is the usage fraction at or above which the
	// system enters CONVERGENCE.
	ConvergenceThreshold float64 `yaml:"convergence_threshold" env:"CONVERGENCE_THRESHOLD"`
	// ExpansionThreshold is the usage fraction below which the system
	// returns to EXPANSION. Between the two thresholds the phase is sticky.
	ExpansionThreshold float64 `yaml:"expansion_threshold" env:"EXPANSION_THRESHOLD"`
}

// RateLimitConfig controls the per-agent sliding window limiter.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" env:"MAX_REQUESTS"`
	Window      time.Duration `yaml:"window" env:"WINDOW"`
}

// SchedulerConfig controls team runs.
type SchedulerConfig struct {
	// MaxConcurrent caps the number of agents running at once.
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// SubmitDelay is the pause between consecutive agent submissions.
	SubmitDelay time.Duration `yaml:"submit_delay" env:"SUBMIT_DELAY"`
	// PollTimeout bounds each wait for a running agent to finish.
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
}

// HealthConfig controls the registry health monitor.
type HealthConfig struct {
	MonitorInterval      time.Duration `yaml:"monitor_interval" env:"MONITOR_INTERVAL"`
	DegradationThreshold float64       `yaml:"degradation_threshold" env:"DEGRADATION_THRESHOLD"`
	CacheHitThreshold    float64       `yaml:"cache_hit_threshold" env:"CACHE_HIT_THRESHOLD"`
	// ErrorLimit is the error count past which an agent is stopped.
	ErrorLimit int `yaml:"error_limit" env:"ERROR_LIMIT"`
	// NoChangeLimit is the consecutive-no-change count past which an
	// agent is considered unhealthy.
	NoChangeLimit int `yaml:"no_change_limit" env:"NO_CHANGE_LIMIT"`
}

// AgentConfig holds per-agent run defaults.
type AgentConfig struct {
	// MaxStartRetries caps start attempts per agent.
	MaxStartRetries int `yaml:"max_start_retries" env:"MAX_START_RETRIES"`
	// StopTimeout bounds how long Stop waits for the run loop to exit.
	StopTimeout time.Duration `yaml:"stop_timeout" env:"STOP_TIMEOUT"`
	// BaseInterval is the initial delay between agent runs.
	BaseInterval time.Duration `yaml:"base_interval" env:"BASE_INTERVAL"`
	// MaxInterval caps the backed-off delay between unproductive runs.
	MaxInterval time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
}

// LLMConfig configures the shared model client.
type LLMConfig struct {
	Model      string        `yaml:"model" env:"MODEL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPS float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst      int           `yaml:"burst" env:"BURST"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	Namespace  string `yaml:"namespace" env:"NAMESPACE"`
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// TelemetryConfig configures OTel trace exporting.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "KINOS",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves configuration: defaults, then the YAML file, then
// environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	var errs []string

	if c.Phase.TokenLimit < 0 {
		errs = append(errs, "phase token_limit must not be negative")
	}
	if c.Phase.ConvergenceThreshold <= 0 || c.Phase.ConvergenceThreshold > 1 {
		errs = append(errs, "phase convergence_threshold must be in (0, 1]")
	}
	if c.Phase.ExpansionThreshold <= 0 || c.Phase.ExpansionThreshold > c.Phase.ConvergenceThreshold {
		errs = append(errs, "phase expansion_threshold must be in (0, convergence_threshold]")
	}
	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, "rate_limit max_requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, "rate_limit window must be positive")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		errs = append(errs, "scheduler max_concurrent must be positive")
	}
	if c.Health.DegradationThreshold < 0 || c.Health.DegradationThreshold > 1 {
		errs = append(errs, "health degradation_threshold must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
