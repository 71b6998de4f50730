package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string

	// DatabaseURL selects Postgres for records and query metrics; empty keeps
	// both in memory.
	DatabaseURL string
	RulesFile   string

	OpenClawAdapterMode string
	OpenClawHTTPURL     string
	OpenClawHTTPStrict  bool
	OpenClawHTTPTimeout time.Duration
	OpenClawCLIPath     string
	OpenClawThinking    string
	OpenClawAgentID     string

	// GraphMode is http, mock or off.
	GraphMode           string
	GraphURL            string
	GraphTimeout        time.Duration
	GraphQueryMode      string
	GraphTopK           int
	GraphContextTimeout time.Duration

	MirrorWorkers     int
	MirrorQueueSize   int
	MirrorRetryBase   time.Duration
	MirrorRetryCap    time.Duration
	MirrorMaxAttempts int
	MirrorRetryJitter float64
	MirrorOpTimeout   time.Duration
	AuditInterval     time.Duration
	EventHistory      int

	PipelineTimeout   time.Duration
	FastPathListLimit int
	SearchLimit       int
	SearchThreshold   float64

	MetricsBuffer        int
	MetricsCapacity      int
	MetricsFlushInterval time.Duration
}

// Load reads environment variables, after an optional .env file, and applies
// safe defaults. Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("MNEMO_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "mnemo"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "json"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		RulesFile:            stringsTrimSpace("MNEMO_RULES_FILE"),
		OpenClawAdapterMode:  envOrDefault("OPENCLAW_ADAPTER_MODE", "auto"),
		OpenClawHTTPURL:      stringsTrimSpace("OPENCLAW_HTTP_URL"),
		OpenClawCLIPath:      envOrDefault("OPENCLAW_CLI_PATH", "openclaw"),
		OpenClawThinking:     envOrDefault("OPENCLAW_THINKING", "low"),
		OpenClawAgentID:      stringsTrimSpace("OPENCLAW_AGENT_ID"),
		GraphMode:            strings.ToLower(envOrDefault("GRAPH_MODE", "off")),
		GraphURL:             stringsTrimSpace("GRAPH_URL"),
		GraphQueryMode:       envOrDefault("GRAPH_QUERY_MODE", "hybrid"),
		GraphTopK:            5,
		ShutdownTimeout:      15 * time.Second,
		OpenClawHTTPTimeout:  60 * time.Second,
		GraphTimeout:         5 * time.Second,
		GraphContextTimeout:  800 * time.Millisecond,
		MirrorWorkers:        4,
		MirrorQueueSize:      1024,
		MirrorRetryBase:      500 * time.Millisecond,
		MirrorRetryCap:       30 * time.Second,
		MirrorMaxAttempts:    5,
		MirrorRetryJitter:    0.2,
		MirrorOpTimeout:      10 * time.Second,
		AuditInterval:        0,
		EventHistory:         200,
		PipelineTimeout:      30 * time.Second,
		SearchLimit:          10,
		SearchThreshold:      0.3,
		MetricsBuffer:        1024,
		MetricsCapacity:      10000,
		MetricsFlushInterval: time.Second,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"OPENCLAW_HTTP_TIMEOUT", &cfg.OpenClawHTTPTimeout},
		{"GRAPH_TIMEOUT", &cfg.GraphTimeout},
		{"GRAPH_CONTEXT_TIMEOUT", &cfg.GraphContextTimeout},
		{"MIRROR_RETRY_BASE", &cfg.MirrorRetryBase},
		{"MIRROR_RETRY_CAP", &cfg.MirrorRetryCap},
		{"MIRROR_OP_TIMEOUT", &cfg.MirrorOpTimeout},
		{"AUDIT_INTERVAL", &cfg.AuditInterval},
		{"PIPELINE_TIMEOUT", &cfg.PipelineTimeout},
		{"METRICS_FLUSH_INTERVAL", &cfg.MetricsFlushInterval},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"GRAPH_TOP_K", &cfg.GraphTopK},
		{"MIRROR_WORKERS", &cfg.MirrorWorkers},
		{"MIRROR_QUEUE_SIZE", &cfg.MirrorQueueSize},
		{"MIRROR_MAX_ATTEMPTS", &cfg.MirrorMaxAttempts},
		{"EVENT_HISTORY", &cfg.EventHistory},
		{"FAST_PATH_LIST_LIMIT", &cfg.FastPathListLimit},
		{"SEARCH_LIMIT", &cfg.SearchLimit},
		{"METRICS_BUFFER", &cfg.MetricsBuffer},
		{"METRICS_CAPACITY", &cfg.MetricsCapacity},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.OpenClawHTTPStrict, err = boolFromEnv("OPENCLAW_HTTP_STREAM_STRICT", cfg.OpenClawHTTPStrict); err != nil {
		return Config{}, err
	}
	if cfg.SearchThreshold, err = floatFromEnv("SEARCH_THRESHOLD", cfg.SearchThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MirrorRetryJitter, err = floatFromEnv("MIRROR_RETRY_JITTER", cfg.MirrorRetryJitter); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.GraphMode {
	case "off", "mock":
	case "http":
		if c.GraphURL == "" {
			return fmt.Errorf("GRAPH_URL is required when GRAPH_MODE=http")
		}
	default:
		return fmt.Errorf("GRAPH_MODE must be http, mock or off, got %q", c.GraphMode)
	}
	if c.MirrorWorkers <= 0 {
		return fmt.Errorf("MIRROR_WORKERS must be positive")
	}
	if c.MirrorQueueSize <= 0 {
		return fmt.Errorf("MIRROR_QUEUE_SIZE must be positive")
	}
	if c.MirrorMaxAttempts <= 0 {
		return fmt.Errorf("MIRROR_MAX_ATTEMPTS must be positive")
	}
	if c.MirrorRetryCap < c.MirrorRetryBase {
		return fmt.Errorf("MIRROR_RETRY_CAP must be >= MIRROR_RETRY_BASE")
	}
	if c.MirrorRetryJitter < 0 || c.MirrorRetryJitter > 1 {
		return fmt.Errorf("MIRROR_RETRY_JITTER must be within [0,1]")
	}
	if c.PipelineTimeout <= 0 {
		return fmt.Errorf("PIPELINE_TIMEOUT must be positive")
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("AUDIT_INTERVAL must be >= 0")
	}
	if c.GraphTopK <= 0 {
		return fmt.Errorf("GRAPH_TOP_K must be positive")
	}
	if c.FastPathListLimit < 0 {
		return fmt.Errorf("FAST_PATH_LIST_LIMIT must be >= 0")
	}
	if c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		return fmt.Errorf("SEARCH_THRESHOLD must be within [0,1]")
	}
	return nil
}

// loadDotEnv is a no-op when the file does not exist.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
