package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/reliability"
)

// QueryMode selects the retrieval strategy of the graph service.
type QueryMode string

const (
	ModeNaive  QueryMode = "naive"
	ModeLocal  QueryMode = "local"
	ModeGlobal QueryMode = "global"
	ModeHybrid QueryMode = "hybrid"
)

func ParseQueryMode(raw string) (QueryMode, error) {
	switch m := QueryMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeNaive, ModeLocal, ModeGlobal, ModeHybrid:
		return m, nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unsupported graph query mode %q", raw)
	}
}

// Document is the remote mirror of one memory record, keyed by the local id.
type Document struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"owner_id"`
	Content string   `json:"content"`
	Topics  []string `json:"topics"`
}

type QueryRequest struct {
	OwnerID string    `json:"owner_id"`
	Text    string    `json:"query"`
	Mode    QueryMode `json:"mode"`
	TopK    int       `json:"top_k"`
}

type Hit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Client talks to the graph knowledge service. A Client is short-lived: open
// one per logical operation and Close it when the operation ends.
type Client interface {
	// Upsert is idempotent per document id.
	Upsert(ctx context.Context, doc Document) error
	// Delete succeeds when the document is already gone.
	Delete(ctx context.Context, ownerID, id string) error
	ListIDs(ctx context.Context, ownerID string) ([]string, error)
	Query(ctx context.Context, req QueryRequest) ([]Hit, error)
	Close() error
}

// Factory opens fresh clients.
type Factory interface {
	Open(ctx context.Context) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Client, error)

func (f FactoryFunc) Open(ctx context.Context) (Client, error) { return f(ctx) }

// With opens a client, runs fn and closes the client.
func With(ctx context.Context, f Factory, fn func(Client) error) (err error) {
	if f == nil {
		return ErrDisabled
	}
	c, err := f.Open(ctx)
	if err != nil {
		return fmt.Errorf("open graph client: %w", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close graph client: %w", cerr)
		}
	}()
	return fn(c)
}

var ErrDisabled = errors.New("graph mirror disabled")

// StatusError is a non-2xx reply from the graph service.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("graph %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("graph %s: status %d: %s", e.Op, e.Code, e.Body)
}

// IsRetryable reports whether a failed graph call is worth repeating.
// Transport failures, an open breaker and throttling/5xx replies are;
// other 4xx replies and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrDisabled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.Code)
	}
	// Transport errors, timeouts and an open breaker.
	return true
}
