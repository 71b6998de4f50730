package observability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryMetric is one routed query. Records are append-only.
type QueryMetric struct {
	Timestamp     time.Time     `json:"timestamp"`
	OwnerID       string        `json:"owner_id"`
	Query         string        `json:"query"`
	Intent        string        `json:"intent"`
	Confidence    float64       `json:"confidence"`
	ExecutionTime time.Duration `json:"execution_time"`
	ResponsePath  string        `json:"response_path"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
}

// MetricSink stores query metrics for later aggregation.
type MetricSink interface {
	Append(ctx context.Context, batch []QueryMetric) error
	Since(ctx context.Context, since time.Time) ([]QueryMetric, error)
	Close() error
}

// NewSink creates a postgres-backed sink when configured, otherwise an
// in-memory ring of the given capacity.
func NewSink(ctx context.Context, databaseURL string, capacity int) (MetricSink, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemorySink(capacity), nil
	}
	return NewPostgresSink(ctx, databaseURL)
}

// InMemorySink keeps the most recent metrics in a fixed ring.
type InMemorySink struct {
	mu     sync.RWMutex
	items  []QueryMetric
	next   int
	filled bool
}

func NewInMemorySink(capacity int) *InMemorySink {
	if capacity <= 0 {
		capacity = 10000
	}
	return &InMemorySink{items: make([]QueryMetric, capacity)}
}

func (s *InMemorySink) Append(_ context.Context, batch []QueryMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch {
		s.items[s.next] = m
		s.next++
		if s.next >= len(s.items) {
			s.next = 0
			s.filled = true
		}
	}
	return nil
}

func (s *InMemorySink) Since(_ context.Context, since time.Time) ([]QueryMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.items[:s.next]
	if s.filled {
		ordered = append(append([]QueryMetric(nil), s.items[s.next:]...), s.items[:s.next]...)
	}
	out := make([]QueryMetric, 0, len(ordered))
	for _, m := range ordered {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemorySink) Close() error { return nil }

// PostgresSink persists metrics to the query_metrics table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS query_metrics (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			owner_id TEXT NOT NULL,
			query TEXT NOT NULL,
			intent TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			execution_us BIGINT NOT NULL,
			response_path TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_query_metrics_ts ON query_metrics (ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return &PostgresSink{pool: pool}, nil
}

var queryMetricColumns = []string{"ts", "owner_id", "query", "intent", "confidence", "execution_us", "response_path", "success", "error"}

func (s *PostgresSink) Append(ctx context.Context, batch []QueryMetric) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"query_metrics"}, queryMetricColumns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			m := batch[i]
			return []any{m.Timestamp, m.OwnerID, m.Query, m.Intent, m.Confidence, m.ExecutionTime.Microseconds(), m.ResponsePath, m.Success, m.Error}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy query metrics: %w", err)
	}
	return nil
}

func (s *PostgresSink) Since(ctx context.Context, since time.Time) ([]QueryMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, owner_id, query, intent, confidence, execution_us, response_path, success, error
		 FROM query_metrics WHERE ts >= $1 ORDER BY ts ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := make([]QueryMetric, 0)
	for rows.Next() {
		var (
			m  QueryMetric
			us int64
		)
		if err := rows.Scan(&m.Timestamp, &m.OwnerID, &m.Query, &m.Intent, &m.Confidence, &us, &m.ResponsePath, &m.Success, &m.Error); err != nil {
			return nil, fmt.Errorf("scan query metric: %w", err)
		}
		m.ExecutionTime = time.Duration(us) * time.Microsecond
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query metrics: %w", err)
	}
	return out, nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
