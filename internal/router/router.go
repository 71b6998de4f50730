package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/intent"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
)

// State is one step of a routed request. Every request records the states it
// passed through in Response.Metadata["states"].
type State string

const (
	StateReceived        State = "received"
	StateClassified      State = "classified"
	StateFastPathAttempt State = "fast_path_attempt"
	StateFastPathDone    State = "fast_path_done"
	StateFastPathFailed  State = "fast_path_failed"
	StateFullPipeline    State = "full_pipeline"
	StatePipelineFailed  State = "pipeline_failed"
	StateDone            State = "done"
)

// Response types.
const (
	ResponseFastPath     = observability.FastPathLabel
	ResponseFullPipeline = observability.PipelineLabel
)

const (
	fastPathFallthroughIndicator = "fast_path_fallthrough"
	defaultPipelineTimeout       = 30 * time.Second
	defaultSearchLimit           = 10
	defaultSearchThreshold       = 0.3
	emptyMemoriesMessage         = "I don't have any memories stored for you yet."
)

var ErrPipelineTimeout = errors.New("reasoning pipeline timed out")

// PipelineError wraps a failure reported by the reasoning pipeline.
type PipelineError struct {
	Err error
}

func (e *PipelineError) Error() string { return "reasoning pipeline failed: " + e.Err.Error() }
func (e *PipelineError) Unwrap() error { return e.Err }

// Pipeline answers queries the memory store cannot.
type Pipeline interface {
	Run(ctx context.Context, query, ownerID string) (string, error)
}

type PipelineFunc func(ctx context.Context, query, ownerID string) (string, error)

func (f PipelineFunc) Run(ctx context.Context, query, ownerID string) (string, error) {
	return f(ctx, query, ownerID)
}

// Classifier is satisfied by *intent.Classifier.
type Classifier interface {
	Classify(query string) intent.Result
}

// Memories is the read side of the memory engine used by the fast path.
type Memories interface {
	Search(ctx context.Context, ownerID string, opts memory.SearchOptions) ([]memory.Scored, error)
}

// Recorder is satisfied by *observability.Collector.
type Recorder interface {
	Record(m observability.QueryMetric)
	ObserveIndicator(name string)
}

type Options struct {
	PipelineTimeout time.Duration
	// ListLimit caps memory_list answers; zero lists everything.
	ListLimit       int
	SearchLimit     int
	SearchThreshold float64
}

type Response struct {
	Content       string         `json:"content"`
	ResponseType  string         `json:"response_type"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Metadata      map[string]any `json:"metadata"`
}

type Router struct {
	classifier Classifier
	memories   Memories
	pipeline   Pipeline
	recorder   Recorder
	opts       Options
	logger     *zap.Logger
}

func New(classifier Classifier, memories Memories, pipeline Pipeline, recorder Recorder, opts Options, logger *zap.Logger) (*Router, error) {
	if classifier == nil {
		return nil, errors.New("router: classifier is required")
	}
	if memories == nil {
		return nil, errors.New("router: memory source is required")
	}
	if pipeline == nil {
		return nil, errors.New("router: pipeline is required")
	}
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = defaultPipelineTimeout
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = defaultSearchLimit
	}
	if opts.SearchThreshold <= 0 {
		opts.SearchThreshold = defaultSearchThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		classifier: classifier,
		memories:   memories,
		pipeline:   pipeline,
		recorder:   recorder,
		opts:       opts,
		logger:     logger,
	}, nil
}

// request carries the per-call trail; nothing about the caller is kept on
// the Router between calls.
type request struct {
	ownerID string
	query   string
	started time.Time
	states  []State
	result  intent.Result
	meta    map[string]any
}

func (q *request) enter(s State) {
	q.states = append(q.states, s)
}

func (q *request) response(content, responseType string) Response {
	meta := make(map[string]any, len(q.meta)+5)
	for k, v := range q.meta {
		meta[k] = v
	}
	meta["states"] = append([]State(nil), q.states...)
	meta["intent"] = string(q.result.Intent)
	meta["confidence"] = q.result.Confidence
	meta["reason"] = q.result.Reason
	meta["fast_path_eligible"] = q.result.FastPathEligible
	return Response{
		Content:       content,
		ResponseType:  responseType,
		ExecutionTime: time.Since(q.started),
		Metadata:      meta,
	}
}

// Handle answers one query for one owner. Eligible queries are tried against
// the memory store first; anything the fast path cannot answer, including
// its own failures, goes to the pipeline.
func (r *Router) Handle(ctx context.Context, ownerID, query string) (Response, error) {
	req := &request{
		ownerID: strings.TrimSpace(ownerID),
		query:   query,
		started: time.Now(),
		meta:    map[string]any{},
	}
	req.enter(StateReceived)
	req.result = r.classifier.Classify(query)
	req.enter(StateClassified)

	if req.result.FastPathEligible {
		req.enter(StateFastPathAttempt)
		content, count, err := r.fastPath(ctx, req)
		if err == nil {
			req.enter(StateFastPathDone)
			req.enter(StateDone)
			req.meta["result_count"] = count
			resp := req.response(content, ResponseFastPath)
			r.record(req, resp, nil)
			return resp, nil
		}
		req.enter(StateFastPathFailed)
		req.meta["fallthrough_reason"] = err.Error()
		if r.recorder != nil {
			r.recorder.ObserveIndicator(fastPathFallthroughIndicator)
		}
		r.logger.Debug("fast path fell through",
			zap.String("owner_id", req.ownerID),
			zap.String("intent", string(req.result.Intent)),
			zap.Error(err),
		)
	}

	req.enter(StateFullPipeline)
	content, err := r.runPipeline(ctx, req)
	if err != nil {
		req.enter(StatePipelineFailed)
		resp := req.response("", ResponseFullPipeline)
		r.record(req, resp, err)
		return resp, err
	}
	req.enter(StateDone)
	resp := req.response(content, ResponseFullPipeline)
	r.record(req, resp, nil)
	return resp, nil
}

var errNoMatches = errors.New("no matching memories")

func (r *Router) fastPath(ctx context.Context, req *request) (content string, count int, err error) {
	defer func() {
		if p := recover(); p != nil {
			content, count = "", 0
			err = fmt.Errorf("fast path panic: %v", p)
		}
	}()

	switch req.result.Intent {
	case intent.MemoryList:
		hits, err := r.memories.Search(ctx, req.ownerID, memory.SearchOptions{Limit: r.opts.ListLimit})
		if err != nil {
			return "", 0, err
		}
		if len(hits) == 0 {
			return emptyMemoriesMessage, 0, nil
		}
		return formatList("Here's what I remember about you:", hits), len(hits), nil
	case intent.MemorySearch:
		subject := strings.TrimSpace(req.result.Subject)
		if subject == "" {
			return "", 0, errors.New("no search subject")
		}
		hits, err := r.memories.Search(ctx, req.ownerID, memory.SearchOptions{
			Query:               subject,
			Limit:               r.opts.SearchLimit,
			SimilarityThreshold: r.opts.SearchThreshold,
			SearchTopics:        true,
		})
		if err != nil {
			return "", 0, err
		}
		if len(hits) == 0 {
			return "", 0, errNoMatches
		}
		return formatList(fmt.Sprintf("Here's what I remember about %s:", subject), hits), len(hits), nil
	default:
		return "", 0, fmt.Errorf("intent %s has no fast path", req.result.Intent)
	}
}

func formatList(header string, hits []memory.Scored) string {
	var b strings.Builder
	b.WriteString(header)
	for i, h := range hits {
		fmt.Fprintf(&b, "\n%d. %s", i+1, h.Record.Content)
	}
	return b.String()
}

type pipelineResult struct {
	text string
	err  error
}

func (r *Router) runPipeline(ctx context.Context, req *request) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.opts.PipelineTimeout)
	defer cancel()

	done := make(chan pipelineResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- pipelineResult{err: fmt.Errorf("pipeline panic: %v", p)}
			}
		}()
		text, err := r.pipeline.Run(runCtx, req.query, req.ownerID)
		done <- pipelineResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.text, nil
		}
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", ErrPipelineTimeout
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &PipelineError{Err: res.err}
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrPipelineTimeout
	}
}

func (r *Router) record(req *request, resp Response, err error) {
	if r.recorder == nil {
		return
	}
	m := observability.QueryMetric{
		OwnerID:       req.ownerID,
		Query:         req.query,
		Intent:        string(req.result.Intent),
		Confidence:    req.result.Confidence,
		ExecutionTime: resp.ExecutionTime,
		ResponsePath:  resp.ResponseType,
		Success:       err == nil,
	}
	if err != nil {
		m.Error = err.Error()
	}
	r.recorder.Record(m)
}
