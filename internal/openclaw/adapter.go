package openclaw

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// MessageRequest is the normalized request sent to the reasoning backend.
type MessageRequest struct {
	UserID        string   `json:"user_id"`
	SessionID     string   `json:"session_id"`
	TurnID        string   `json:"turn_id,omitempty"`
	InputText     string   `json:"input_text"`
	MemoryContext []string `json:"memory_context,omitempty"`
}

// MessageResponse is the final response after streaming deltas.
type MessageResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter bridges query routing with OpenClaw reasoning.
type Adapter interface {
	StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode             string
	HTTPURL          string
	HTTPStreamStrict bool
	HTTPTimeout      time.Duration
	CLIPath          string
	CLIThinking      string
	AgentID          string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("openclaw CLI path is required for cli mode")
		}
		return newCLIAdapter(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("openclaw HTTP url is required for http mode")
		}
		return newHTTPAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported openclaw adapter mode %q", cfg.Mode)
	}
}

func newCLIAdapter(cfg Config) *CLIAdapter {
	a := NewCLIAdapter(cfg.CLIPath)
	a.thinking = strings.TrimSpace(cfg.CLIThinking)
	a.agentID = strings.TrimSpace(cfg.AgentID)
	return a
}

func newHTTPAdapter(cfg Config) *HTTPAdapter {
	a := NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.HTTPStreamStrict)
	if cfg.HTTPTimeout > 0 {
		a.client.Timeout = cfg.HTTPTimeout
	}
	return a
}

// newAutoAdapter prefers an installed CLI, then the HTTP endpoint, then the
// mock. When both CLI and HTTP are available the HTTP endpoint backs up the CLI.
func newAutoAdapter(cfg Config) Adapter {
	var cli Adapter
	if path := strings.TrimSpace(cfg.CLIPath); path != "" {
		if _, err := exec.LookPath(path); err == nil {
			cli = newCLIAdapter(cfg)
		}
	}
	var httpAdapter Adapter
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		httpAdapter = newHTTPAdapter(cfg)
	}

	switch {
	case cli != nil && httpAdapter != nil:
		return NewFallbackAdapter(cli, httpAdapter)
	case cli != nil:
		return cli
	case httpAdapter != nil:
		return httpAdapter
	default:
		return NewMockAdapter()
	}
}
