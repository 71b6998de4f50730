package observability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CollectorOptions tunes the asynchronous metrics pipeline.
type CollectorOptions struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
	WindowSize    int
	// Redact filters query text before it is stored.
	Redact func(string) string
}

// Collector accepts query metrics without blocking the caller and writes them
// to a sink in batches. Prometheus instruments and the rolling latency window
// are updated inline since both are cheap.
type Collector struct {
	sink    MetricSink
	metrics *Metrics
	window  *latencyWindow
	logger  *zap.Logger
	opts    CollectorOptions
	now     func() time.Time

	in      chan QueryMetric
	flushes chan chan struct{}
	done    chan struct{}
	dropped atomic.Int64

	closeMu sync.RWMutex
	closed  bool
}

var ErrCollectorClosed = errors.New("metrics collector closed")

func NewCollector(sink MetricSink, metrics *Metrics, opts CollectorOptions, logger *zap.Logger) *Collector {
	if sink == nil {
		sink = NewInMemorySink(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	c := &Collector{
		sink:    sink,
		metrics: metrics,
		window:  newLatencyWindow(opts.WindowSize),
		logger:  logger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		in:      make(chan QueryMetric, opts.Buffer),
		flushes: make(chan chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Record never blocks. When the buffer is full the metric is counted as
// dropped and discarded.
func (c *Collector) Record(m QueryMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now()
	}
	if c.opts.Redact != nil {
		m.Query = c.opts.Redact(m.Query)
	}
	c.metrics.ObserveQuery(m.ResponsePath, m.Intent, m.Success, m.ExecutionTime)
	c.window.Observe(m.ResponsePath, m.Intent, durationMS(m.ExecutionTime))
	if !m.Success {
		c.window.Count(m.ResponsePath + "_error")
	}

	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		c.drop()
		return
	}
	select {
	case c.in <- m:
	default:
		c.drop()
	}
}

// ObserveIndicator counts a named routing event in the latency snapshot.
func (c *Collector) ObserveIndicator(name string) {
	c.window.Count(name)
}

func (c *Collector) drop() {
	c.dropped.Add(1)
	c.metrics.incDropped()
}

// Dropped reports how many metrics were discarded.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Snapshot returns rolling latency stats per path and per path and intent.
func (c *Collector) Snapshot() LatencySnapshot {
	return c.window.Snapshot()
}

func (c *Collector) ResetLatency() {
	c.window.Reset()
}

func (c *Collector) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]QueryMetric, 0, c.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.sink.Append(ctx, batch); err != nil {
			c.logger.Warn("query metrics flush failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case m, ok := <-c.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, m)
			if len(batch) >= c.opts.BatchSize {
				flush()
			}
		case ack := <-c.flushes:
			// Drain what is already buffered so the ack covers every accepted metric.
			for drained := false; !drained; {
				select {
				case m, ok := <-c.in:
					if !ok {
						drained = true
						break
					}
					batch = append(batch, m)
				default:
					drained = true
				}
			}
			flush()
			close(ack)
		case <-ticker.C:
			flush()
		}
	}
}

// Flush writes every accepted metric to the sink before returning.
func (c *Collector) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case c.flushes <- ack:
	case <-c.done:
		return ErrCollectorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting metrics, flushes the rest and closes the sink.
func (c *Collector) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.in)
	c.closeMu.Unlock()
	<-c.done
	return c.sink.Close()
}

// Statistics aggregates the query metrics of a time window.
type Statistics struct {
	Window        string                    `json:"window"`
	Since         time.Time                 `json:"since"`
	Total         int                       `json:"total"`
	Successes     int                       `json:"successes"`
	SuccessRate   float64                   `json:"success_rate"`
	FastPathRatio float64                   `json:"fast_path_ratio"`
	Paths         map[string]LatencySummary `json:"paths"`
	Intents       map[string]int            `json:"intents"`
	Dropped       int64                     `json:"dropped"`
}

const (
	// FastPathLabel is the response path counted by Statistics.FastPathRatio.
	FastPathLabel = "memory_fast_path"
	PipelineLabel = "full_pipeline"
)

// GetStatistics aggregates metrics recorded within window of now.
func (c *Collector) GetStatistics(ctx context.Context, window time.Duration) (Statistics, error) {
	if window <= 0 {
		window = time.Hour
	}
	if err := c.Flush(ctx); err != nil && !errors.Is(err, ErrCollectorClosed) {
		return Statistics{}, err
	}
	since := c.now().Add(-window)
	items, err := c.sink.Since(ctx, since)
	if err != nil {
		return Statistics{}, err
	}
	stats := Aggregate(items)
	stats.Window = window.String()
	stats.Since = since
	stats.Dropped = c.Dropped()
	return stats, nil
}

// Aggregate computes Statistics over items.
func Aggregate(items []QueryMetric) Statistics {
	stats := Statistics{
		Total: len(items),
		Paths: summarizeBy(items,
			func(m QueryMetric) string { return m.ResponsePath },
			func(m QueryMetric) float64 { return durationMS(m.ExecutionTime) },
		),
		Intents: make(map[string]int),
	}
	fast := 0
	for _, m := range items {
		if m.Success {
			stats.Successes++
		}
		if m.ResponsePath == FastPathLabel {
			fast++
		}
		stats.Intents[m.Intent]++
	}
	if stats.Total > 0 {
		stats.SuccessRate = round2(float64(stats.Successes) / float64(stats.Total))
		stats.FastPathRatio = round2(float64(fast) / float64(stats.Total))
	}
	return stats
}
