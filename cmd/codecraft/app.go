package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dshills/codecraft/graph"
	"github.com/dshills/codecraft/graph/emit"
	"github.com/dshills/codecraft/graph/model"
	"github.com/dshills/codecraft/graph/model/anthropic"
	"github.com/dshills/codecraft/graph/model/google"
	"github.com/dshills/codecraft/graph/model/openai"
	"github.com/dshills/codecraft/graph/store"
	"github.com/dshills/codecraft/internal/config"
	"github.com/dshills/codecraft/internal/logging"
	"github.com/dshills/codecraft/internal/telemetry"
	"github.com/dshills/codecraft/internal/workflow"
)

const tracerName = "github.com/dshills/codecraft/graph"

// app is the wired process state shared by serve and run.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Provider
	registry  *prometheus.Registry
	events    *emit.BufferedEmitter
	runner    *workflow.Runner
	modelName string

	closers []io.Closer
}

// newApp loads configuration and wires every dependency. A missing API key
// is logged, not returned; runs then fail with the configuration error.
func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	a.telemetry, err = telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	st, err := newStore(ctx, cfg.Store)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if c, ok := st.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	chat, modelName, err := newChatModel(ctx, cfg.LLM)
	switch {
	case errors.Is(err, model.ErrMissingAPIKey):
		logger.Warn("no LLM API key configured; workflow runs will fail until one is set",
			zap.String("provider", cfg.LLM.Provider))
	case err != nil:
		a.close(ctx)
		return nil, fmt.Errorf("failed to create %s chat model: %w", cfg.LLM.Provider, err)
	}
	if c, ok := chat.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.modelName = modelName

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.events = emit.NewBufferedEmitter(emit.DefaultMaxRuns)
	emitters := []emit.Emitter{emit.NewLogEmitter(logger), a.events}
	if a.telemetry.Enabled() {
		emitters = append(emitters, emit.NewOTelEmitter(a.telemetry.Tracer(tracerName)))
	}

	a.runner, err = workflow.NewRunner(chat, st, emit.NewMultiEmitter(emitters...),
		workflow.WithMaxCycles(cfg.Workflow.MaxCycles),
		workflow.WithMetrics(graph.NewPrometheusMetrics(a.registry)),
		workflow.WithLogger(logger),
	)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}

	logger.Info("codecraft initialized",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", modelName),
		zap.Bool("llm_configured", chat != nil),
		zap.Int("max_cycles", cfg.Workflow.MaxCycles),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("tracing", a.telemetry.Enabled()),
	)
	return a, nil
}

// close releases stores and clients, flushes spans and syncs the logger.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil

	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = logging.Sync(a.logger)
}

// newStore opens the configured run store.
func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store[workflow.State], error) {
	switch cfg.Driver {
	case "memory", "":
		return store.NewMemStore[workflow.State](cfg.MaxRuns), nil
	case "sqlite":
		s, err := store.NewSQLiteStore[workflow.State](cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	case "mysql":
		s, err := store.NewMySQLStore[workflow.State](ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newChatModel builds the configured provider's adapter. It returns a nil
// model and model.ErrMissingAPIKey when no key is set; the model name is
// always filled in so /status can report it.
func newChatModel(ctx context.Context, cfg config.LLMConfig) (model.ChatModel, string, error) {
	name := defaultModelName(cfg)

	switch cfg.Provider {
	case "openai", "":
		m, err := openai.New(openai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Referer: cfg.Referer,
			Title:   cfg.Title,
		})
		if err != nil {
			return nil, name, err
		}
		return m, m.Name(), nil

	case "anthropic":
		m, err := anthropic.New(anthropic.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, name, err
		}
		return m, m.Name(), nil

	case "google":
		m, err := google.New(ctx, google.Config{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, name, err
		}
		return m, m.Name(), nil
	}

	return nil, name, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func defaultModelName(cfg config.LLMConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	switch cfg.Provider {
	case "anthropic":
		return anthropic.DefaultModel
	case "google":
		return google.DefaultModel
	default:
		return openai.DefaultModel
	}
}
