// Package pipeline wires the feed, dispatcher, queue and workers together and
// coordinates a graceful shutdown.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/radar-downloader/internal/api"
	"github.com/dgnsrekt/radar-downloader/internal/config"
	"github.com/dgnsrekt/radar-downloader/internal/dispatch"
	"github.com/dgnsrekt/radar-downloader/internal/download"
	"github.com/dgnsrekt/radar-downloader/internal/feed"
	"github.com/dgnsrekt/radar-downloader/internal/notify"
	"github.com/dgnsrekt/radar-downloader/internal/staging"
	"github.com/dgnsrekt/radar-downloader/internal/status"
)

// Pipeline owns one instance of every component. Nothing is shared between pipelines.
type Pipeline struct {
	cfg        *config.Config
	store      *staging.Store
	queue      *download.Queue
	pool       *download.Pool
	dispatcher *dispatch.Dispatcher
	feed       *feed.Client
	status     *status.Server
	logger     *zap.Logger

	stopping atomic.Bool
}

func New(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		store:  staging.NewStore(cfg.Output.Directory),
		queue:  download.NewQueue(cfg.Download.QueueSize),
		logger: logger,
	}

	client := api.NewClient(cfg.API.Endpoint, cfg.API.RatePerSecond, cfg.APITimeout(), cfg.APIRetryDelay(), cfg.API.RetryCount, logger)
	notifier := notify.New(&cfg.Notify, logger)
	p.pool = download.NewPool(p.queue, client, p.store, notifier, cfg.Download.Workers, logger)
	p.dispatcher = dispatch.New(cfg.Products, p.queue, dispatch.WithLogger(logger))

	fc, err := feed.NewClient(feed.Config{
		URL:        cfg.Feed.URL,
		Topic:      cfg.Feed.Topic,
		Host:       cfg.Feed.Host,
		Origin:     cfg.Feed.Origin,
		BackoffMin: cfg.BackoffMin(),
		BackoffMax: cfg.BackoffMax(),
	}, p.dispatcher, logger)
	if err != nil {
		return nil, fmt.Errorf("creating feed client: %w", err)
	}
	p.feed = fc

	if cfg.Status.Addr != "" {
		p.status = status.NewServer(cfg.Status.Addr, p, logger)
	}
	return p, nil
}

// Run blocks until ctx is cancelled. The feed then stops reconnecting and
// closes its socket, the queue is closed and the workers finish every job
// already queued before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.store.Prepare(); err != nil {
		return fmt.Errorf("preparing output directory: %w", err)
	}
	p.logger.Info("starting radar downloader",
		zap.Strings("products", p.cfg.Products),
		zap.String("output", p.store.Root()),
		zap.Int("workers", p.cfg.Download.Workers),
	)

	stop := context.AfterFunc(ctx, func() { p.stopping.Store(true) })
	defer stop()

	// Workers are not bound to ctx so queued jobs survive the stop signal.
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		p.pool.Run(context.WithoutCancel(ctx))
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.feed.Run(gctx)
	})
	g.Go(func() error {
		p.dispatcher.RunReaper(gctx)
		return nil
	})
	if p.status != nil {
		g.Go(func() error {
			return p.status.Run(gctx)
		})
	}
	err := g.Wait()

	p.stopping.Store(true)
	p.logger.Info("waiting for pending downloads", zap.Int("queued", p.queue.Len()))
	p.queue.Close()
	<-workersDone

	stats := p.pool.Stats()
	p.logger.Info("radar downloader stopped",
		zap.Int64("downloaded", stats.Downloaded),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
	)
	return err
}

// Stopping reports whether shutdown has begun.
func (p *Pipeline) Stopping() bool {
	return p.stopping.Load()
}

func (p *Pipeline) Snapshot() status.Snapshot {
	return status.Snapshot{
		Stopping:  p.Stopping(),
		Feed:      p.feed.Stats(),
		Dispatch:  p.dispatcher.Stats(),
		Downloads: p.pool.Stats(),
		Queue:     status.QueueStats{Depth: p.queue.Len(), Capacity: p.queue.Cap()},
	}
}
