package main

import (
	"context"
	"fmt"
	"log/slog"

	"go-blogjobs/config"
	"go-blogjobs/logging"
	"go-blogjobs/metrics"
	"go-blogjobs/model"
	"go-blogjobs/queue"
	"go-blogjobs/search"
	"go-blogjobs/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// components are the collaborators every process builds for itself from
// configuration. Nothing is shared between the API and worker processes
// except the database, Redis and the search cluster.
type components struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	store   *store.Store
	queue   *queue.Queue
	backend search.Backend
	mirror  *search.Mirror
}

func newComponents(ctx context.Context) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	st := store.New(pool)

	q, err := queue.Connect(ctx, cfg.RedisURL, cfg.QueueName, queue.Options{
		ResultTTL:  cfg.JobResultTTL,
		FailureTTL: cfg.JobFailureTTL,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	backend, err := search.New(cfg.ElasticsearchURL)
	if err != nil {
		q.Close()
		st.Close()
		return nil, fmt.Errorf("search backend: %w", err)
	}
	if backend == nil {
		logger.Info("search disabled: ELASTICSEARCH_URL not set")
	}

	mirror := search.NewMirror(backend, logger, m)
	mirror.Register(model.PostsIndex, postRows(st))
	st.AddListener(mirror)

	return &components{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   st,
		queue:   q,
		backend: backend,
		mirror:  mirror,
	}, nil
}

func (c *components) Close() {
	if err := c.queue.Close(); err != nil {
		c.logger.Warn("closing redis", "error", err)
	}
	c.store.Close()
}

func postRows(st *store.Store) search.RowSource {
	return func(ctx context.Context, fn func(model.Indexable) error) error {
		return st.EachPost(ctx, st.DB(), func(p *model.Post) error {
			return fn(p)
		})
	}
}
