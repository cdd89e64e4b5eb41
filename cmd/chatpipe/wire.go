package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/smallnest/chatpipe/config"
	"github.com/smallnest/chatpipe/engine"
	"github.com/smallnest/chatpipe/history"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/provider"
	"github.com/smallnest/chatpipe/store"
	"github.com/smallnest/chatpipe/store/memory"
	"github.com/smallnest/chatpipe/store/postgres"
	"github.com/smallnest/chatpipe/store/redis"
	"github.com/smallnest/chatpipe/store/sqlite"
	"github.com/smallnest/chatpipe/task"
	"github.com/smallnest/chatpipe/telemetry"
	"github.com/smallnest/chatpipe/tool"
)

// app holds the components built from a configuration.
type app struct {
	cfg     *config.Config
	logger  log.Logger
	metrics *telemetry.Metrics
	store   store.Store
	tasks   task.Store
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  cfg.Logger(),
		metrics: telemetry.NewMetrics(),
	}
	log.SetDefaultLogger(a.logger)
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	sc := a.cfg.Store
	a.tasks = task.NewMemoryStore(a.cfg.Task.Retention)

	switch sc.Backend {
	case config.BackendMemory:
		a.store = memory.NewMemoryStore()
	case config.BackendRedis:
		s := redis.NewRedisStore(redis.RedisOptions{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
			TTL:      sc.Redis.TTL,
		})
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.store, a.tasks = s, s
		a.closers = append(a.closers, s.Close)
	case config.BackendPostgres:
		s, err := postgres.NewPostgresStore(ctx, postgres.PostgresOptions{
			ConnString:  sc.Postgres.ConnString,
			TablePrefix: sc.Postgres.TablePrefix,
		})
		if err != nil {
			return err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() error { s.Close(); return nil })
	case config.BackendSqlite:
		s, err := sqlite.NewSqliteStore(sqlite.SqliteOptions{
			Path:        sc.Sqlite.Path,
			TablePrefix: sc.Sqlite.TablePrefix,
		})
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		return fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, sc.Backend)
	}
	a.logger.Debug("using %s store", sc.Backend)
	return nil
}

// engineOptions translates the configuration into executor options.
func (a *app) engineOptions() ([]engine.Option, error) {
	ec := a.cfg.Engine
	opts := []engine.Option{
		engine.WithStore(a.store),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithMaxNodeExecutions(ec.MaxNodeExecutions),
		engine.WithMaxNodeVisits(ec.MaxNodeVisits),
		engine.WithProviderTimeout(ec.ProviderTimeout),
		engine.WithRetry(engine.RetryConfig{
			MaxAttempts:   ec.Retry.MaxAttempts,
			InitialDelay:  ec.Retry.InitialDelay,
			MaxDelay:      ec.Retry.MaxDelay,
			BackoffFactor: ec.Retry.BackoffFactor,
		}),
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	var defaultModel string
	for _, p := range a.cfg.Models.Providers {
		m, err := provider.NewOpenAI(
			provider.WithToken(p.APIKey),
			provider.WithBaseURL(p.BaseURL),
			provider.WithModel(p.Model),
			provider.WithOrganization(p.Organization),
			provider.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("model provider %q: %w", p.Name, err)
		}
		opts = append(opts, engine.WithModel(p.Name, m))
		if defaultModel == "" || p.Name == a.cfg.Models.Default {
			defaultModel = p.Name
			if ec.TokenCounter == "model" {
				model := p.Model
				if model == "" {
					model = provider.DefaultModel
				}
				opts = append(opts, engine.WithTokenCounter(history.ModelCounter{Model: model}))
			}
		}
	}
	if defaultModel != "" {
		opts = append(opts, engine.WithDefaultModel(defaultModel))
	}

	tc := a.cfg.Tools
	if tc.WebFetch {
		wf := tool.NewWebFetch()
		wf.Client = httpClient
		if tc.WebFetchMaxChars > 0 {
			wf.MaxChars = tc.WebFetchMaxChars
		}
		opts = append(opts, engine.WithTool(wf))
	}
	if tc.BraveAPIKey != "" {
		bs, err := tool.NewBraveSearch(tc.BraveAPIKey, tool.WithBraveHTTPClient(httpClient))
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithTool(bs))
	}
	return opts, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
