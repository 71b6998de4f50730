package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenClawAdapterMode != "auto" {
		t.Fatalf("OpenClawAdapterMode = %q, want %q", cfg.OpenClawAdapterMode, "auto")
	}
	if cfg.OpenClawHTTPURL != "" {
		t.Fatalf("OpenClawHTTPURL = %q, want empty default", cfg.OpenClawHTTPURL)
	}
	if cfg.GraphMode != "off" {
		t.Fatalf("GraphMode = %q, want off", cfg.GraphMode)
	}
	if cfg.MirrorWorkers != 4 || cfg.MirrorQueueSize != 1024 || cfg.MirrorMaxAttempts != 5 {
		t.Fatalf("unexpected mirror defaults: %+v", cfg)
	}
	if cfg.PipelineTimeout != 30*time.Second {
		t.Fatalf("PipelineTimeout = %s, want 30s", cfg.PipelineTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENCLAW_HTTP_URL", "http://localhost:7777/custom")
	t.Setenv("GRAPH_MODE", "HTTP")
	t.Setenv("GRAPH_URL", "http://graph.local")
	t.Setenv("MIRROR_WORKERS", "8")
	t.Setenv("PIPELINE_TIMEOUT", "12s")
	t.Setenv("SEARCH_THRESHOLD", "0.5")
	t.Setenv("OPENCLAW_HTTP_STREAM_STRICT", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenClawHTTPURL != "http://localhost:7777/custom" {
		t.Fatalf("OpenClawHTTPURL = %q, want explicit value", cfg.OpenClawHTTPURL)
	}
	if cfg.GraphMode != "http" || cfg.GraphURL != "http://graph.local" {
		t.Fatalf("graph = %q %q", cfg.GraphMode, cfg.GraphURL)
	}
	if cfg.MirrorWorkers != 8 || cfg.PipelineTimeout != 12*time.Second || cfg.SearchThreshold != 0.5 || !cfg.OpenClawHTTPStrict {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":       {"PIPELINE_TIMEOUT": "soon"},
		"bad int":            {"MIRROR_WORKERS": "many"},
		"zero workers":       {"MIRROR_WORKERS": "0"},
		"unknown graph mode": {"GRAPH_MODE": "grpc"},
		"http without url":   {"GRAPH_MODE": "http"},
		"threshold range":    {"SEARCH_THRESHOLD": "1.5"},
		"bad bool":           {"APP_ALLOW_ANY_ORIGIN": "maybe"},
		"retry cap":          {"MIRROR_RETRY_BASE": "10s", "MIRROR_RETRY_CAP": "1s"},
		"jitter range":       {"MIRROR_RETRY_JITTER": "-0.1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error for %v", env)
			}
		})
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("GRAPH_MODE=mock\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MNEMO_ENV_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")
	// godotenv only fills unset variables; t.Setenv("", ...) still counts as set.
	os.Unsetenv("GRAPH_MODE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GraphMode != "mock" {
		t.Fatalf("GraphMode = %q, want mock from env file", cfg.GraphMode)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want environment value", cfg.LogLevel)
	}
}

func TestLoadIgnoresMissingDotEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MNEMO_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadRulesDefaults(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if err := rules.Validate(); err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}
	if rules.Dedup.FreeTextThreshold != 0.8 || rules.Dedup.StructuredThreshold != 0.95 {
		t.Fatalf("unexpected dedup defaults: %+v", rules.Dedup)
	}
}

func TestLoadRulesLayersFileOverDefaults(t *testing.T) {
	path := writeRules(t, `
dedup:
  free_text_threshold: 0.7
intent:
  compound_threshold: 3
topics:
  - topic: travel
    keywords: [flight, trip]
`)
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if rules.Dedup.FreeTextThreshold != 0.7 || rules.Dedup.StructuredThreshold != 0.95 {
		t.Fatalf("dedup = %+v", rules.Dedup)
	}
	if rules.Intent.CompoundThreshold != 3 || len(rules.Intent.Groups) != 3 {
		t.Fatalf("intent rules not layered: threshold=%d groups=%d", rules.Intent.CompoundThreshold, len(rules.Intent.Groups))
	}
	if len(rules.Topics) != 1 || rules.Topics[0].Topic != "travel" {
		t.Fatalf("topics = %+v", rules.Topics)
	}
	if len(rules.Scorer.Stopwords) == 0 {
		t.Fatalf("scorer defaults lost")
	}
}

func TestLoadRulesRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"threshold out of range": "dedup:\n  free_text_threshold: 1.5\n",
		"structured below free":  "dedup:\n  free_text_threshold: 0.9\n  structured_threshold: 0.85\n",
		"bad regex":              "intent:\n  groups:\n    - intent: memory_list\n      confidence: 0.9\n      patterns: ['(']\n",
		"unknown intent":         "intent:\n  groups:\n    - intent: weather\n      confidence: 0.9\n      patterns: ['x']\n",
		"topic without name":     "topics:\n  - keywords: [x]\n",
		"not yaml":               "dedup: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadRules(writeRules(t, body)); err == nil {
				t.Fatalf("LoadRules() expected error")
			}
		})
	}
}

func TestValidateNamesTheField(t *testing.T) {
	rules := DefaultRules()
	rules.Dedup.FreeTextThreshold = 0
	err := rules.Validate()
	if err == nil || !strings.Contains(err.Error(), "dedup.free_text_threshold") {
		t.Fatalf("Validate() error = %v, want field name", err)
	}
}

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"MNEMO_RULES_FILE",
		"OPENCLAW_ADAPTER_MODE",
		"OPENCLAW_HTTP_URL",
		"OPENCLAW_HTTP_STREAM_STRICT",
		"OPENCLAW_HTTP_TIMEOUT",
		"OPENCLAW_CLI_PATH",
		"OPENCLAW_THINKING",
		"OPENCLAW_AGENT_ID",
		"GRAPH_MODE",
		"GRAPH_URL",
		"GRAPH_TIMEOUT",
		"GRAPH_QUERY_MODE",
		"GRAPH_TOP_K",
		"GRAPH_CONTEXT_TIMEOUT",
		"MIRROR_WORKERS",
		"MIRROR_QUEUE_SIZE",
		"MIRROR_RETRY_BASE",
		"MIRROR_RETRY_CAP",
		"MIRROR_MAX_ATTEMPTS",
		"MIRROR_RETRY_JITTER",
		"MIRROR_OP_TIMEOUT",
		"AUDIT_INTERVAL",
		"EVENT_HISTORY",
		"PIPELINE_TIMEOUT",
		"FAST_PATH_LIST_LIMIT",
		"SEARCH_LIMIT",
		"SEARCH_THRESHOLD",
		"METRICS_BUFFER",
		"METRICS_CAPACITY",
		"METRICS_FLUSH_INTERVAL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
	t.Setenv("MNEMO_ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
}
