package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker shared by every client a factory opens.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// HTTPFactory opens clients for a graph service speaking JSON over HTTP.
// Each client owns its transport; only the breaker is shared, so a failing
// service trips once for every caller.
type HTTPFactory struct {
	baseURL string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewHTTPFactory(baseURL string, timeout time.Duration, bc BreakerConfig, logger *zap.Logger) (*HTTPFactory, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("graph base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse graph base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("graph circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A 4xx reply means the service is up; only retryable failures count.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	})
	return &HTTPFactory{baseURL: baseURL, timeout: timeout, breaker: breaker, logger: logger}, nil
}

func (f *HTTPFactory) Open(context.Context) (Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &httpClient{
		baseURL:   f.baseURL,
		breaker:   f.breaker,
		transport: transport,
		client:    &http.Client{Timeout: f.timeout, Transport: transport},
	}, nil
}

// BreakerState exposes the shared breaker state for readiness reporting.
func (f *HTTPFactory) BreakerState() gobreaker.State {
	return f.breaker.State()
}

type httpClient struct {
	baseURL   string
	breaker   *gobreaker.CircuitBreaker
	transport *http.Transport
	client    *http.Client
}

func (c *httpClient) Upsert(ctx context.Context, doc Document) error {
	_, err := c.do(ctx, "upsert", http.MethodPost, "/documents/upsert", nil, doc)
	return err
}

func (c *httpClient) Delete(ctx context.Context, ownerID, id string) error {
	q := url.Values{"owner_id": {ownerID}}
	_, err := c.do(ctx, "delete", http.MethodDelete, "/documents/"+url.PathEscape(id), q, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *httpClient) ListIDs(ctx context.Context, ownerID string) ([]string, error) {
	q := url.Values{"owner_id": {ownerID}}
	body, err := c.do(ctx, "list", http.MethodGet, "/documents/ids", q, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode graph ids: %w", err)
	}
	return out.IDs, nil
}

func (c *httpClient) Query(ctx context.Context, req QueryRequest) ([]Hit, error) {
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	body, err := c.do(ctx, "query", http.MethodPost, "/query", nil, req)
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []Hit `json:"results"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode graph results: %w", err)
	}
	return out.Results, nil
}

func (c *httpClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *httpClient) do(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("marshal graph %s: %w", op, err)
			}
			reader = bytes.NewReader(raw)
		}
		target := c.baseURL + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("create graph %s request: %w", op, err)
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		res, err := c.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("graph %s: %w", op, err)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return nil, &StatusError{Op: op, Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("read graph %s response: %w", op, err)
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("graph %s: %w", op, err)
		}
		return nil, err
	}
	body, _ := out.([]byte)
	return body, nil
}
