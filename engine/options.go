package engine

import (
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
	"go.opentelemetry.io/otel/trace"

	"github.com/smallnest/chatpipe/history"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/store"
	"github.com/smallnest/chatpipe/telemetry"
)

// Defaults for the executor limits.
const (
	DefaultMaxNodeExecutions = 100
	DefaultMaxNodeVisits     = 10
	DefaultProviderTimeout   = 60 * time.Second
)

// Option configures an Executor.
type Option func(*Executor)

// WithModel registers a model under name. The first registered model becomes
// the default unless WithDefaultModel is used.
func WithModel(name string, model llms.Model) Option {
	return func(e *Executor) {
		e.models[name] = model
		if e.defaultModel == "" {
			e.defaultModel = name
		}
	}
}

// WithDefaultModel selects the model used by nodes that do not name one.
func WithDefaultModel(name string) Option {
	return func(e *Executor) { e.defaultModel = name }
}

// WithTool registers a tool under its own name.
func WithTool(tool tools.Tool) Option {
	return func(e *Executor) { e.tools[tool.Name()] = tool }
}

// WithStore sets the persistence backend. The default is an in-memory store.
func WithStore(s store.Store) Option {
	return func(e *Executor) { e.store = s }
}

// WithMaxNodeExecutions bounds the number of node executions per run.
func WithMaxNodeExecutions(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxExecutions = n
		}
	}
}

// WithMaxNodeVisits bounds how often a single node may run per run.
func WithMaxNodeVisits(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxVisits = n
		}
	}
}

// WithProviderTimeout sets the default per-call timeout of model and tool calls.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.providerTimeout = d
		}
	}
}

// WithRetry sets the retry policy of model and tool calls. Zero fields keep
// their defaults.
func WithRetry(cfg RetryConfig) Option {
	return func(e *Executor) {
		def := DefaultRetryConfig()
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = def.MaxAttempts
		}
		if cfg.InitialDelay <= 0 {
			cfg.InitialDelay = def.InitialDelay
		}
		if cfg.MaxDelay <= 0 {
			cfg.MaxDelay = def.MaxDelay
		}
		if cfg.BackoffFactor <= 0 {
			cfg.BackoffFactor = def.BackoffFactor
		}
		e.retry = cfg
	}
}

// WithTokenCounter sets the counter used for history token budgets.
func WithTokenCounter(c history.TokenCounter) Option {
	return func(e *Executor) { e.tokenCounter = c }
}

// WithSummarizer overrides the summarizer of the summarize history policy.
// By default the default model summarizes.
func WithSummarizer(s history.Summarizer) Option {
	return func(e *Executor) { e.summarizer = s }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithListener adds a listener for run and node events.
func WithListener(l Listener) Option {
	return func(e *Executor) { e.listeners = append(e.listeners, l) }
}

// WithMetrics records run and node metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) { e.tracer = telemetry.Tracer(tp) }
}

// WithClock replaces time.Now, mainly for prompt templates in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}
