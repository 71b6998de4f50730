package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/graph"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/reliability"
)

// Options sizes the mirror worker pool and its retry policy.
type Options struct {
	Workers     int
	QueueSize   int
	RetryBase   time.Duration
	RetryCap    time.Duration
	MaxAttempts int
	// RetryJitter shortens each retry delay by up to this fraction.
	RetryJitter float64
	OpTimeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		Workers:     4,
		QueueSize:   1024,
		RetryBase:   500 * time.Millisecond,
		RetryCap:    30 * time.Second,
		MaxAttempts: 5,
		RetryJitter: 0.2,
		OpTimeout:   10 * time.Second,
	}
}

type jobKind int

const (
	jobUpsert jobKind = iota
	jobDelete
)

func (k jobKind) String() string {
	if k == jobDelete {
		return "delete"
	}
	return "upsert"
}

// errQueueFull is retried with backoff like a transient remote failure.
var errQueueFull = errors.New("mirror queue full")

type job struct {
	kind    jobKind
	ownerID string
	id      string
	attempt int
}

// Coordinator wraps every memory mutation. The local engine decides the
// outcome synchronously; mirroring to the graph service happens afterwards on
// a bounded worker pool and never reaches the caller.
type Coordinator struct {
	engine  *memory.Engine
	graph   graph.Factory
	hub     *Hub
	metrics *observability.Metrics
	logger  *zap.Logger
	opts    Options
	backoff reliability.Backoff

	jobs   chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
	// unmirrored holds ids deleted locally whose remote delete failed,
	// keyed by owner. Repair re-issues those deletes.
	unmirrored map[string]map[string]struct{}
}

// NewCoordinator starts the worker pool. A nil factory disables mirroring:
// records stay pending and no remote calls are made.
func NewCoordinator(engine *memory.Engine, factory graph.Factory, hub *Hub, metrics *observability.Metrics, opts Options, logger *zap.Logger) (*Coordinator, error) {
	if engine == nil {
		return nil, errors.New("memory engine is required")
	}
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = def.RetryBase
	}
	if opts.RetryCap < opts.RetryBase {
		opts.RetryCap = max(def.RetryCap, opts.RetryBase)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = def.OpTimeout
	}
	if hub == nil {
		hub = NewHub(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		engine:  engine,
		graph:   factory,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		backoff: reliability.Backoff{
			Base:        opts.RetryBase,
			Cap:         opts.RetryCap,
			MaxAttempts: opts.MaxAttempts,
			Jitter:      opts.RetryJitter,
		},
		jobs:       make(chan job, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		timers:     make(map[*time.Timer]struct{}),
		unmirrored: make(map[string]map[string]struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c, nil
}

func (c *Coordinator) Engine() *memory.Engine { return c.engine }

func (c *Coordinator) Hub() *Hub { return c.hub }

// Enabled reports whether a graph service is configured.
func (c *Coordinator) Enabled() bool { return c.graph != nil }

func (c *Coordinator) Add(ctx context.Context, req memory.AddRequest) (memory.AddOutcome, error) {
	out, err := c.engine.Add(ctx, req)
	if err != nil {
		c.metrics.ObserveMemoryWrite("add", "error")
		return out, err
	}
	rec, stored := out.Record()
	if !stored {
		rej, _ := out.Rejection()
		c.metrics.ObserveMemoryWrite("add", string(rej.Reason))
		return out, nil
	}
	c.metrics.ObserveMemoryWrite("add", "stored")
	c.hub.Publish(Event{Type: EventStored, OwnerID: rec.OwnerID, MemoryID: rec.ID, Content: rec.Content, Topics: rec.Topics, SyncState: rec.SyncState})
	c.enqueue(job{kind: jobUpsert, ownerID: rec.OwnerID, id: rec.ID})
	return out, nil
}

func (c *Coordinator) Update(ctx context.Context, ownerID, id, content string, topics []string) (memory.Record, error) {
	rec, err := c.engine.Update(ctx, ownerID, id, content, topics)
	if err != nil {
		c.metrics.ObserveMemoryWrite("update", writeOutcome(err))
		return rec, err
	}
	c.metrics.ObserveMemoryWrite("update", "stored")
	c.hub.Publish(Event{Type: EventUpdated, OwnerID: rec.OwnerID, MemoryID: rec.ID, Content: rec.Content, Topics: rec.Topics, SyncState: rec.SyncState})
	c.enqueue(job{kind: jobUpsert, ownerID: rec.OwnerID, id: rec.ID})
	return rec, nil
}

func (c *Coordinator) Delete(ctx context.Context, ownerID, id string) error {
	if err := c.engine.Delete(ctx, ownerID, id); err != nil {
		c.metrics.ObserveMemoryWrite("delete", writeOutcome(err))
		return err
	}
	c.deleted(ownerID, []string{id}, "delete")
	return nil
}

func (c *Coordinator) DeleteByTopic(ctx context.Context, ownerID string, topics []string) ([]string, error) {
	ids, err := c.engine.DeleteByTopic(ctx, ownerID, topics)
	if err != nil {
		c.metrics.ObserveMemoryWrite("delete_topic", writeOutcome(err))
		return nil, err
	}
	c.deleted(ownerID, ids, "delete_topic")
	return ids, nil
}

func (c *Coordinator) Clear(ctx context.Context, ownerID string) ([]string, error) {
	ids, err := c.engine.Clear(ctx, ownerID)
	if err != nil {
		c.metrics.ObserveMemoryWrite("clear", writeOutcome(err))
		return nil, err
	}
	c.hub.Forget(ownerID)
	c.deleted(ownerID, ids, "clear")
	return ids, nil
}

func (c *Coordinator) deleted(ownerID string, ids []string, op string) {
	c.metrics.ObserveMemoryWrite(op, "deleted")
	for _, id := range ids {
		c.hub.Publish(Event{Type: EventDeleted, OwnerID: ownerID, MemoryID: id})
		c.enqueue(job{kind: jobDelete, ownerID: ownerID, id: id})
	}
}

// Repush queues a fresh upsert for a record, resetting its retry budget.
// It reports false when the job could not be queued.
func (c *Coordinator) Repush(ownerID, id string) bool {
	return c.enqueue(job{kind: jobUpsert, ownerID: ownerID, id: id})
}

// Redelete queues a fresh remote delete for an id deleted locally, resetting
// its retry budget. It reports false when the job could not be queued.
func (c *Coordinator) Redelete(ownerID, id string) bool {
	return c.enqueue(job{kind: jobDelete, ownerID: ownerID, id: id})
}

// PendingDeletes lists ids deleted locally whose remote delete has not been
// confirmed, sorted.
func (c *Coordinator) PendingDeletes(ownerID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.unmirrored[ownerID]))
	for id := range c.unmirrored[ownerID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) markUnmirrored(j job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owned := c.unmirrored[j.ownerID]
	if owned == nil {
		owned = make(map[string]struct{})
		c.unmirrored[j.ownerID] = owned
	}
	owned[j.id] = struct{}{}
}

func (c *Coordinator) forgetDelete(ownerID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owned := c.unmirrored[ownerID]
	delete(owned, id)
	if len(owned) == 0 {
		delete(c.unmirrored, ownerID)
	}
}

// QueueDepth reports jobs waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return len(c.jobs)
}

func (c *Coordinator) enqueue(j job) bool {
	if c.graph == nil {
		return false
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("mirror job dropped after close", zap.String("op", j.kind.String()), zap.String("memory_id", j.id))
		if j.kind == jobDelete {
			c.markUnmirrored(j)
		}
		return false
	}
	select {
	case c.jobs <- j:
		c.mu.Unlock()
		c.metrics.SetSyncQueueDepth(len(c.jobs))
		return true
	default:
		c.mu.Unlock()
	}

	c.metrics.ObserveSync(j.kind.String(), "queue_full")
	c.logger.Warn("mirror queue full", zap.String("op", j.kind.String()), zap.String("owner_id", j.ownerID), zap.String("memory_id", j.id))
	switch j.kind {
	case jobUpsert:
		c.markFailedLatest(j)
	case jobDelete:
		// The local record is gone, so nothing else would carry this delete.
		c.markUnmirrored(j)
		c.retry(j, errQueueFull)
	}
	return false
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for j := range c.jobs {
		c.metrics.SetSyncQueueDepth(len(c.jobs))
		c.process(j)
	}
}

func (c *Coordinator) process(j job) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.OpTimeout)
	defer cancel()

	switch j.kind {
	case jobUpsert:
		c.processUpsert(ctx, j)
	case jobDelete:
		err := graph.With(ctx, c.graph, func(cl graph.Client) error {
			return cl.Delete(ctx, j.ownerID, j.id)
		})
		if err != nil {
			c.markUnmirrored(j)
			c.retry(j, err)
			return
		}
		c.forgetDelete(j.ownerID, j.id)
		c.metrics.ObserveSync("delete", "ok")
	}
}

func (c *Coordinator) processUpsert(ctx context.Context, j job) {
	rec, err := c.engine.Get(ctx, j.ownerID, j.id)
	if errors.Is(err, memory.ErrNotFound) {
		// Deleted since queued; the delete job owns the remote side now.
		c.metrics.ObserveSync("upsert", "stale")
		return
	}
	if err != nil {
		c.retry(j, fmt.Errorf("load memory: %w", err))
		return
	}

	err = graph.With(ctx, c.graph, func(cl graph.Client) error {
		return cl.Upsert(ctx, graph.Document{ID: rec.ID, OwnerID: rec.OwnerID, Content: rec.Content, Topics: rec.Topics})
	})
	if err != nil {
		c.setState(ctx, rec, memory.SyncFailed)
		c.retry(j, err)
		return
	}
	c.metrics.ObserveSync("upsert", "ok")
	c.setState(ctx, rec, memory.SyncSynced)
}

// setState applies state only if rec is still the current version.
func (c *Coordinator) setState(ctx context.Context, rec memory.Record, state memory.SyncState) {
	applied, err := c.engine.SetSyncStateIf(ctx, rec.OwnerID, rec.ID, rec.LastUpdated, state)
	if err != nil {
		if !errors.Is(err, memory.ErrNotFound) {
			c.logger.Warn("set sync state failed", zap.String("memory_id", rec.ID), zap.Error(err))
		}
		return
	}
	if applied {
		c.hub.Publish(Event{Type: EventSync, OwnerID: rec.OwnerID, MemoryID: rec.ID, SyncState: state})
	}
}

func (c *Coordinator) markFailedLatest(j job) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.OpTimeout)
	defer cancel()
	rec, err := c.engine.Get(ctx, j.ownerID, j.id)
	if err != nil {
		return
	}
	c.setState(ctx, rec, memory.SyncFailed)
}

func (c *Coordinator) retry(j job, err error) {
	op := j.kind.String()
	if !graph.IsRetryable(err) {
		c.metrics.ObserveSync(op, "rejected")
		c.logger.Error("mirror operation failed permanently", zap.String("op", op), zap.String("memory_id", j.id), zap.Error(err))
		return
	}
	if c.backoff.Exhausted(j.attempt + 1) {
		c.metrics.ObserveSync(op, "exhausted")
		c.logger.Error("mirror retries exhausted; left for audit repair",
			zap.String("op", op),
			zap.String("owner_id", j.ownerID),
			zap.String("memory_id", j.id),
			zap.Int("attempts", j.attempt+1),
			zap.Error(err),
		)
		return
	}
	c.metrics.ObserveSync(op, "retry")
	delay := c.backoff.Delay(j.attempt)
	c.logger.Warn("mirror operation failed; retrying",
		zap.String("op", op),
		zap.String("memory_id", j.id),
		zap.Int("attempt", j.attempt+1),
		zap.Duration("delay", delay),
		zap.Error(err),
	)

	next := j
	next.attempt++
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, timer)
		c.mu.Unlock()
		c.enqueue(next)
	})
	c.timers[timer] = struct{}{}
}

// Close stops retry timers, drains queued jobs and waits for the workers.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	close(c.jobs)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

func writeOutcome(err error) string {
	var rejected *memory.RejectedError
	switch {
	case errors.As(err, &rejected):
		return string(rejected.Rejection.Reason)
	case errors.Is(err, memory.ErrNotFound):
		return "not_found"
	case errors.Is(err, memory.ErrValidation):
		return "validation_error"
	default:
		return "error"
	}
}
