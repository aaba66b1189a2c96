package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/backoff"
	"github.com/chaoschain/gateway/ext"
	mw "github.com/chaoschain/gateway/middleware"
	"github.com/chaoschain/gateway/observability"
	"github.com/chaoschain/gateway/queue"
	"github.com/chaoschain/gateway/store"
	"github.com/chaoschain/gateway/txqueue"
	"github.com/chaoschain/gateway/worker"
	"github.com/chaoschain/gateway/workflow"
)

const instrumentationName = "github.com/chaoschain/gateway"

// Engine owns a workflow engine and the machinery that drives it.
type Engine struct {
	store      store.Store
	cfg        gateway.Config
	logger     *slog.Logger
	extensions *ext.Registry
	workflows  *workflow.Engine
	txq        *txqueue.Queue
	admission  *queue.Manager
	pool       *worker.Pool

	exts          []ext.Extension
	mws           []mw.Middleware
	bo            backoff.Strategy
	classifier    *workflow.Classifier
	locker        txqueue.Locker
	limits        *txqueue.Limits
	queueConfigs  []queue.Config
	studioConfigs []queue.StudioConfig
	poolOpts      []worker.PoolOption
	wfOpts        []workflow.Option
	migrate       bool

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg gateway.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds step middleware after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy. If not set, an exponential
// strategy is derived from the configuration.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithClassifier replaces the default error classifier.
func WithClassifier(c *workflow.Classifier) Option {
	return func(eng *Engine) { eng.classifier = c }
}

// WithLocker sets the signer lock. Use a Redis locker when several
// gateway processes share signers.
func WithLocker(l txqueue.Locker) Option {
	return func(eng *Engine) { eng.locker = l }
}

// WithLimits sets per-signer submission rate limits.
func WithLimits(l *txqueue.Limits) Option {
	return func(eng *Engine) { eng.limits = l }
}

// WithQueueConfig registers per-type admission limits. Types not listed
// are not limited.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithStudioConfig registers per-studio admission limits.
func WithStudioConfig(configs ...queue.StudioConfig) Option {
	return func(eng *Engine) { eng.studioConfigs = append(eng.studioConfigs, configs...) }
}

// WithPoolOptions passes options to the worker pool. Concurrency and sweep
// interval already come from the configuration.
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(eng *Engine) { eng.poolOpts = append(eng.poolOpts, opts...) }
}

// WithWorkflowOptions passes extra options to the workflow engine.
func WithWorkflowOptions(opts ...workflow.Option) Option {
	return func(eng *Engine) { eng.wfOpts = append(eng.wfOpts, opts...) }
}

// WithMigrate runs store migrations in Start.
func WithMigrate(b bool) Option {
	return func(eng *Engine) { eng.migrate = b }
}

// WithTracerProvider sets the provider for step spans. If not set, the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the provider for step and outcome metrics. If not
// set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build assembles an Engine over s and adapters.
func Build(s store.Store, adapters workflow.Adapters, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, gateway.ErrNoStore
	}
	eng := &Engine{
		store:  s,
		cfg:    gateway.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	logger := eng.logger

	eng.extensions = ext.NewRegistry(logger)
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	for _, x := range eng.exts {
		eng.extensions.Register(x)
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// recover → tracing → metrics → logging → caller middleware
	mws := make([]workflow.StepMiddleware, 0, 4+len(eng.mws))
	mws = append(mws, mw.Recover(logger), tracingMw, metricsMw, mw.Logging(logger))
	mws = append(mws, eng.mws...)

	qopts := []txqueue.Option{
		txqueue.WithSubmitTimeout(eng.cfg.ActionTimeout),
		txqueue.WithLogger(logger),
	}
	if eng.locker != nil {
		qopts = append(qopts, txqueue.WithLocker(eng.locker))
	}
	if eng.limits != nil {
		qopts = append(qopts, txqueue.WithLimits(eng.limits))
	}
	eng.txq = txqueue.New(adapters.Ledger, qopts...)

	wfOpts := []workflow.Option{
		workflow.WithConfig(eng.cfg),
		workflow.WithLogger(logger),
		workflow.WithQueue(eng.txq),
		workflow.WithEmitter(eng.extensions),
		workflow.WithMiddleware(mws...),
	}
	if eng.classifier != nil {
		wfOpts = append(wfOpts, workflow.WithClassifier(eng.classifier))
	}
	if eng.bo != nil {
		wfOpts = append(wfOpts, workflow.WithBackoff(eng.bo))
	}
	wfOpts = append(wfOpts, eng.wfOpts...)

	var err error
	eng.workflows, err = workflow.NewEngine(s, adapters, wfOpts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: build workflow engine: %w", err)
	}

	eng.admission = queue.NewManager(eng.queueConfigs...)
	for _, sc := range eng.studioConfigs {
		eng.admission.SetStudioConfig(sc)
	}
	executor := worker.NewExecutor(eng.workflows, eng.admission, logger)

	poolOpts := make([]worker.PoolOption, 0, 2+len(eng.poolOpts))
	poolOpts = append(poolOpts,
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithSweepInterval(eng.cfg.SweepInterval),
	)
	poolOpts = append(poolOpts, eng.poolOpts...)
	eng.pool = worker.NewPool(eng.workflows, executor, logger, poolOpts...)

	return eng, nil
}

// Start runs migrations when enabled and starts the worker pool, whose
// first sweep reconciles whatever a previous process left behind.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.migrate {
		if err := eng.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", gateway.ErrMigrationFailed, err)
		}
	}
	return eng.pool.Start(ctx)
}

// Stop drains the worker pool and notifies extensions.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	return err
}

// Health pings the store.
func (eng *Engine) Health(ctx context.Context) error {
	return eng.store.Ping(ctx)
}

// Workflows returns the workflow engine.
func (eng *Engine) Workflows() *workflow.Engine { return eng.workflows }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Store returns the store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// TxQueue returns the signer transaction queue.
func (eng *Engine) TxQueue() *txqueue.Queue { return eng.txq }

// Admission returns the admission manager.
func (eng *Engine) Admission() *queue.Manager { return eng.admission }

// Config returns the effective configuration.
func (eng *Engine) Config() gateway.Config { return eng.cfg }
