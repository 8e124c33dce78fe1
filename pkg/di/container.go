// Package di is the composition root: it wires the store, cache service,
// monitor and per-repository executors and decorators together so callers
// construct the stack once and inject it everywhere.
package di

import (
	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goliatone/go-repository-resilience/batch"
	"github.com/goliatone/go-repository-resilience/cache"
	"github.com/goliatone/go-repository-resilience/internal/redisstore"
	"github.com/goliatone/go-repository-resilience/monitor"
	"github.com/goliatone/go-repository-resilience/repositorycache"
)

// Config aggregates the per-component configurations.
type Config struct {
	Cache   cache.Config
	Redis   cache.RedisConfig
	Batch   batch.Config
	Monitor monitor.Config
}

// DefaultConfig returns the stack defaults.
func DefaultConfig() Config {
	return Config{
		Cache:   cache.DefaultConfig(),
		Redis:   cache.DefaultRedisConfig(),
		Batch:   batch.DefaultConfig(),
		Monitor: monitor.DefaultConfig(),
	}
}

// Container holds the singleton pieces of the stack. Per-repository
// executors and cached repositories are created through the package-level
// generic factories, since methods cannot carry type parameters.
type Container struct {
	cfg     Config
	store   cache.Store
	cache   *cache.Service
	monitor *monitor.Monitor
	logger  *zap.Logger
}

// Option customizes a Container at construction time.
type Option func(*containerOptions)

type containerOptions struct {
	store      cache.Store
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithStore supplies a pre-built store, skipping the Redis dial. Used with
// in-memory stores in tests and examples, or to share one Redis client
// across containers.
func WithStore(store cache.Store) Option {
	return func(o *containerOptions) { o.store = store }
}

// WithLogger installs the logger handed to every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRegisterer enables Prometheus export on the monitor.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *containerOptions) { o.registerer = reg }
}

// New builds the stack from cfg. Without WithStore it dials Redis using
// cfg.Redis, so construction fails fast when the store is unreachable.
func New(cfg Config, opts ...Option) (*Container, error) {
	options := containerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&options)
	}

	store := options.store
	if store == nil {
		redisStore, err := redisstore.New(cfg.Redis)
		if err != nil {
			return nil, err
		}
		store = redisStore
	}

	svc, err := cache.NewService(store, cfg.Cache, cache.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}

	monitorOpts := []monitor.Option{monitor.WithLogger(options.logger)}
	if options.registerer != nil {
		monitorOpts = append(monitorOpts, monitor.WithRegisterer(options.registerer))
	}
	mon, err := monitor.New(cfg.Monitor, monitorOpts...)
	if err != nil {
		return nil, err
	}

	return &Container{
		cfg:     cfg,
		store:   store,
		cache:   svc,
		monitor: mon,
		logger:  options.logger,
	}, nil
}

// NewWithDefaults builds the stack with DefaultConfig.
func NewWithDefaults(opts ...Option) (*Container, error) {
	return New(DefaultConfig(), opts...)
}

// Cache returns the shared cache service.
func (c *Container) Cache() *cache.Service { return c.cache }

// Monitor returns the shared performance monitor.
func (c *Container) Monitor() *monitor.Monitor { return c.monitor }

// Store returns the backing key-value store.
func (c *Container) Store() cache.Store { return c.store }

// Config returns a copy of the container configuration.
func (c *Container) Config() Config { return c.cfg }

// NewExecutor builds a batch executor over store using the container's
// batch configuration and logger.
func NewExecutor[T any](c *Container, store batch.Store[T], opts ...batch.Option[T]) (*batch.Executor[T], error) {
	opts = append([]batch.Option[T]{batch.WithLogger[T](c.logger)}, opts...)
	return batch.New(store, c.cfg.Batch, opts...)
}

// NewRepositoryExecutor builds a batch executor that writes through repo.
func NewRepositoryExecutor[T any](c *Container, repo repository.Repository[T], opts ...batch.Option[T]) (*batch.Executor[T], error) {
	return NewExecutor(c, batch.NewRepositoryStore(repo), opts...)
}

// NewCachedRepository wraps base with caching and batched bulk writes,
// wired to the container's cache service and batch configuration.
//
//	users, err := di.NewCachedRepository(container, userRepo)
func NewCachedRepository[T any](c *Container, base repository.Repository[T], opts ...repositorycache.Option[T]) (*repositorycache.CachedRepository[T], error) {
	executor, err := NewRepositoryExecutor(c, base)
	if err != nil {
		return nil, err
	}

	opts = append([]repositorycache.Option[T]{
		repositorycache.WithLogger[T](c.logger),
		repositorycache.WithExecutor(executor),
	}, opts...)
	return repositorycache.New(base, c.cache, opts...), nil
}
