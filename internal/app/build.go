package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/execution"
	"github.com/ent0n29/mnemo/internal/graph"
	"github.com/ent0n29/mnemo/internal/httpapi"
	"github.com/ent0n29/mnemo/internal/intent"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/mirror"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/openclaw"
	"github.com/ent0n29/mnemo/internal/policy"
	"github.com/ent0n29/mnemo/internal/router"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Engine      *memory.Engine
	Coordinator *mirror.Coordinator
	// Auditor is nil when GRAPH_MODE=off.
	Auditor    *mirror.Auditor
	Router     *router.Router
	Classifier *intent.Classifier
	Collector  *observability.Collector
	Metrics    *observability.Metrics
	GraphMode  string

	// Cleanup drains the mirror queue and metric buffer, then releases the
	// database pools. Call it once on shutdown.
	Cleanup func(ctx context.Context) error
}

// Build wires the service from cfg. reg may be nil to use the default
// Prometheus registry.
func Build(ctx context.Context, cfg config.Config, reg *prometheus.Registry, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, registerer)

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	classifier, err := intent.New(rules.Intent)
	if err != nil {
		return nil, fmt.Errorf("intent classifier init failed: %w", err)
	}

	backend, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	engine, err := memory.NewEngine(backend, rules.EngineConfig(), logger.Named("memory"))
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("memory engine init failed: %w", err)
	}

	factory, err := graphFactory(cfg, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	queryMode, err := graph.ParseQueryMode(cfg.GraphQueryMode)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	coord, err := mirror.NewCoordinator(engine, factory, mirror.NewHub(cfg.EventHistory), metrics, mirror.Options{
		Workers:     cfg.MirrorWorkers,
		QueueSize:   cfg.MirrorQueueSize,
		RetryBase:   cfg.MirrorRetryBase,
		RetryCap:    cfg.MirrorRetryCap,
		MaxAttempts: cfg.MirrorMaxAttempts,
		RetryJitter: cfg.MirrorRetryJitter,
		OpTimeout:   cfg.MirrorOpTimeout,
	}, logger.Named("mirror"))
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("mirror init failed: %w", err)
	}
	var auditor *mirror.Auditor
	if factory != nil {
		auditor = mirror.NewAuditor(coord, factory, logger.Named("audit"))
	}

	sink, err := observability.NewSink(ctx, cfg.DatabaseURL, cfg.MetricsCapacity)
	if err != nil {
		_ = coord.Close(ctx)
		_ = backend.Close()
		return nil, fmt.Errorf("metrics sink init failed: %w", err)
	}
	collector := observability.NewCollector(sink, metrics, observability.CollectorOptions{
		Buffer:        cfg.MetricsBuffer,
		FlushInterval: cfg.MetricsFlushInterval,
		Redact:        policy.Redact,
	}, logger.Named("metrics"))

	adapter, err := openclaw.NewAdapter(openclaw.Config{
		Mode:             cfg.OpenClawAdapterMode,
		HTTPURL:          cfg.OpenClawHTTPURL,
		HTTPStreamStrict: cfg.OpenClawHTTPStrict,
		HTTPTimeout:      cfg.OpenClawHTTPTimeout,
		CLIPath:          cfg.OpenClawCLIPath,
		CLIThinking:      cfg.OpenClawThinking,
		AgentID:          cfg.OpenClawAgentID,
	})
	if err != nil {
		_ = collector.Close()
		_ = coord.Close(ctx)
		_ = backend.Close()
		return nil, fmt.Errorf("openclaw adapter init failed: %w", err)
	}
	runner := execution.NewRunner(adapter, execution.Options{
		Graph:          factory,
		GraphMode:      queryMode,
		TopK:           cfg.GraphTopK,
		Memories:       engine,
		ContextTimeout: cfg.GraphContextTimeout,
	}, logger.Named("pipeline"))

	rt, err := router.New(classifier, engine, runner, collector, router.Options{
		PipelineTimeout: cfg.PipelineTimeout,
		ListLimit:       cfg.FastPathListLimit,
		SearchLimit:     cfg.SearchLimit,
		SearchThreshold: cfg.SearchThreshold,
	}, logger.Named("router"))
	if err != nil {
		_ = collector.Close()
		_ = coord.Close(ctx)
		_ = backend.Close()
		return nil, fmt.Errorf("router init failed: %w", err)
	}

	api := httpapi.New(httpapi.Deps{
		Coordinator:    coord,
		Auditor:        auditor,
		Router:         rt,
		Classifier:     classifier,
		Collector:      collector,
		Metrics:        metrics,
		Gatherer:       gatherer,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
		Logger:         logger.Named("http"),
	})

	cleanup := func(ctx context.Context) error {
		var errs []error
		if err := coord.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mirror: %w", err))
		}
		if err := collector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("memory store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Engine:      engine,
		Coordinator: coord,
		Auditor:     auditor,
		Router:      rt,
		Classifier:  classifier,
		Collector:   collector,
		Metrics:     metrics,
		GraphMode:   cfg.GraphMode,
		Cleanup:     cleanup,
	}, nil
}

// graphFactory returns nil for GRAPH_MODE=off, which disables the mirror.
func graphFactory(cfg config.Config, logger *zap.Logger) (graph.Factory, error) {
	switch cfg.GraphMode {
	case "http":
		f, err := graph.NewHTTPFactory(cfg.GraphURL, cfg.GraphTimeout, graph.DefaultBreakerConfig(), logger.Named("graph"))
		if err != nil {
			return nil, fmt.Errorf("graph client init failed: %w", err)
		}
		return f, nil
	case "mock":
		logger.Warn("graph mirror running against an in-process fake")
		return graph.NewFake(), nil
	default:
		return nil, nil
	}
}
