// Package serve assembles the long-running file retrieval service: the cron
// scheduler, the bus consumer, the maintenance loop and the ops HTTP server.
package serve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/catalog"
	"github.com/riskinsure/fileretrieval/internal/config"
	"github.com/riskinsure/fileretrieval/internal/dispatch"
	"github.com/riskinsure/fileretrieval/internal/gate"
	"github.com/riskinsure/fileretrieval/internal/lock"
	"github.com/riskinsure/fileretrieval/internal/metrics"
	"github.com/riskinsure/fileretrieval/internal/notify"
	"github.com/riskinsure/fileretrieval/internal/protocol"
	"github.com/riskinsure/fileretrieval/internal/rediscli"
	"github.com/riskinsure/fileretrieval/internal/secrets"
	"github.com/riskinsure/fileretrieval/internal/store"
	"github.com/riskinsure/fileretrieval/internal/trigger"
)

// Components is every collaborator built from one service config.
type Components struct {
	Config     *config.Config
	Log        *zap.Logger
	Store      *store.Store
	Catalog    *catalog.Catalog
	Registry   *prometheus.Registry
	Metrics    *metrics.Prometheus
	Publisher  bus.Publisher
	Consumer   bus.Consumer
	Locker     lock.Locker
	Gate       *gate.Gate
	Dispatcher *dispatch.Dispatcher
	Worker     *dispatch.Worker
	Scheduler  *trigger.Scheduler

	closers []func() error
}

// Build connects to the store and the bus and wires the dispatch pipeline.
// Callers must Close the result.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Store, err = store.OpenMigrated(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Store.Close)

	var resolver protocol.SecretsResolver
	st, err := secrets.Load(cfg.SecretsPath, cfg.AgeIdentity)
	if err != nil {
		return nil, fmt.Errorf("loading secrets: %w", err)
	}
	if st != nil {
		resolver = st
	}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.NewPrometheus(c.Registry)

	redisClients := map[string]redis.UniversalClient{}
	redisFor := func(addr string) (redis.UniversalClient, error) {
		if client, ok := redisClients[addr]; ok {
			return client, nil
		}
		client, err := rediscli.New(ctx, addr)
		if err != nil {
			return nil, err
		}
		redisClients[addr] = client
		c.closers = append(c.closers, client.Close)
		return client, nil
	}

	switch cfg.Bus.Kind {
	case "redis":
		client, err := redisFor(cfg.Bus.RedisAddr)
		if err != nil {
			return nil, err
		}
		c.Publisher = bus.NewRedisPublisher(client)
		c.Consumer = bus.NewRedisConsumer(client, bus.RedisConsumerConfig{Consumer: cfg.Bus.Consumer}, log)
	default:
		mem := bus.NewMemory(2*cfg.Scheduler.Concurrency,
			bus.WithRetention(cfg.Bus.Retain),
			bus.WithLogger(log.Named("bus")))
		c.Publisher, c.Consumer = mem, mem
	}

	switch cfg.Lock.Kind {
	case "redis":
		client, err := redisFor(cfg.LockRedisAddr())
		if err != nil {
			return nil, err
		}
		c.Locker = lock.NewRedis(client)
	default:
		c.Locker = lock.NewMemory()
	}

	c.Catalog = catalog.New(cfg.ConfigurationsDir)
	c.Gate = gate.New(cfg.Scheduler.Concurrency).WithMetrics(c.Metrics)

	c.Dispatcher = dispatch.New(dispatch.Config{
		ListTimeout: cfg.Dispatch.ListTimeout.Duration,
		LockTTL:     cfg.Lock.TTL.Duration,
	}, dispatch.Deps{
		Configurations: c.Catalog,
		Executions:     c.Store,
		Ledger:         c.Store,
		Locker:         c.Locker,
		Events:         c.Publisher,
		Adapters:       protocol.NewFactory(resolver, protocol.Options{ConnectTimeout: cfg.Dispatch.ConnectTimeout.Duration}),
		Notifier:       notify.NewEmitter(c.Publisher, c.Store, log).WithMetrics(c.Metrics),
		Logger:         log,
		Metrics:        c.Metrics,
	})

	retry := dispatch.DefaultRetryPolicy
	retry.MaxElapsed = cfg.Dispatch.RetryMaxElapsed.Duration
	c.Worker = dispatch.NewWorker(c.Dispatcher, c.Gate, retry, log).WithMetrics(c.Metrics)

	c.Scheduler = trigger.NewScheduler(trigger.Config{
		TickInterval: cfg.Scheduler.TickInterval.Duration,
		MaxCatchUp:   cfg.Scheduler.MaxCatchUp.Duration,
	}, c.Catalog, c.Gate, c.Worker, log).WithMetrics(c.Metrics)

	return c, nil
}

// Maintenance returns the stale-execution and retention loop for c.
func (c *Components) Maintenance() *Maintenance {
	return NewMaintenance(MaintenanceConfig{
		Interval:   5 * time.Minute,
		StaleAfter: c.Config.Dispatch.StaleAfter.Duration,
		Retention:  c.Config.Dispatch.Retention.Duration,
		PruneEvery: 24 * time.Hour,
	}, c.Store, c.Log)
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
