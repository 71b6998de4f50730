package execution

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/graph"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/openclaw"
)

const (
	defaultContextTimeout = 800 * time.Millisecond
	defaultTopK           = 5
	localContextThreshold = 0.5
)

// Memories is the local lookup used when the graph cannot supply context.
type Memories interface {
	Search(ctx context.Context, ownerID string, opts memory.SearchOptions) ([]memory.Scored, error)
}

type Options struct {
	Graph     graph.Factory
	GraphMode graph.QueryMode
	TopK      int
	Memories  Memories
	// ContextTimeout bounds the memory-context lookup; the pipeline runs
	// without context when it expires.
	ContextTimeout time.Duration
}

// Runner is the reasoning pipeline: it hands the query plus whatever memory
// context it can gather quickly to the openclaw adapter.
type Runner struct {
	adapter openclaw.Adapter
	opts    Options
	logger  *zap.Logger
}

func NewRunner(adapter openclaw.Adapter, opts Options, logger *zap.Logger) *Runner {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.ContextTimeout <= 0 {
		opts.ContextTimeout = defaultContextTimeout
	}
	if opts.GraphMode == "" {
		opts.GraphMode = graph.ModeHybrid
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{adapter: adapter, opts: opts, logger: logger}
}

func (r *Runner) Run(ctx context.Context, query, ownerID string) (string, error) {
	if r.adapter == nil {
		return "", errors.New("reasoning adapter is not configured")
	}
	var out strings.Builder
	res, err := r.adapter.StreamResponse(ctx, openclaw.MessageRequest{
		UserID:        ownerID,
		SessionID:     ownerID,
		InputText:     query,
		MemoryContext: r.memoryContext(ctx, query, ownerID),
	}, func(delta string) error {
		d := strings.TrimSpace(delta)
		if d == "" {
			return nil
		}
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString(d)
		return nil
	})
	if err != nil {
		return "", err
	}

	final := strings.TrimSpace(out.String())
	if final == "" {
		final = strings.TrimSpace(res.Text)
	}
	return final, nil
}

// memoryContext prefers graph hits and falls back to local search. Lookup
// failures are logged and never fail the request.
func (r *Runner) memoryContext(ctx context.Context, query, ownerID string) []string {
	ctx, cancel := context.WithTimeout(ctx, r.opts.ContextTimeout)
	defer cancel()

	if r.opts.Graph != nil {
		var hits []graph.Hit
		err := graph.With(ctx, r.opts.Graph, func(c graph.Client) error {
			var qerr error
			hits, qerr = c.Query(ctx, graph.QueryRequest{
				OwnerID: ownerID,
				Text:    query,
				Mode:    r.opts.GraphMode,
				TopK:    r.opts.TopK,
			})
			return qerr
		})
		if err == nil && len(hits) > 0 {
			lines := make([]string, 0, len(hits))
			for _, h := range hits {
				if c := strings.TrimSpace(h.Content); c != "" {
					lines = append(lines, c)
				}
			}
			return lines
		}
		if err != nil {
			r.logger.Debug("graph context unavailable", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}

	if r.opts.Memories == nil {
		return nil
	}
	scored, err := r.opts.Memories.Search(ctx, ownerID, memory.SearchOptions{
		Query:               query,
		Limit:               r.opts.TopK,
		SimilarityThreshold: localContextThreshold,
		SearchTopics:        true,
	})
	if err != nil {
		r.logger.Debug("local memory context unavailable", zap.String("owner_id", ownerID), zap.Error(err))
		return nil
	}
	lines := make([]string, 0, len(scored))
	for _, s := range scored {
		lines = append(lines, s.Record.Content)
	}
	return lines
}
