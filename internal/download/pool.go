// Package download turns queued jobs into files on disk with a fixed set of workers.
package download

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dgnsrekt/radar-downloader/internal/api"
	"github.com/dgnsrekt/radar-downloader/internal/notify"
	"github.com/dgnsrekt/radar-downloader/internal/staging"
)

const DefaultWorkers = 3

// Stats are cumulative outcome counters of a Pool.
type Stats struct {
	Downloaded int64 `json:"downloaded"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
	InFlight   int64 `json:"in_flight"`
	Bytes      int64 `json:"bytes"`
}

type Pool struct {
	queue    *Queue
	client   api.Client
	store    *staging.Store
	notifier notify.Notifier
	workers  int
	logger   *zap.Logger

	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	inFlight   atomic.Int64
	bytes      atomic.Int64
}

func NewPool(queue *Queue, client api.Client, store *staging.Store, notifier notify.Notifier, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Pool{
		queue:    queue,
		client:   client,
		store:    store,
		notifier: notifier,
		workers:  workers,
		logger:   logger,
	}
}

// Run starts the workers and blocks until every one of them has exited:
// either the queue was closed and drained, or ctx was cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	logger.Debug("worker started")

	for {
		job, ok := p.queue.Dequeue(ctx)
		if !ok {
			logger.Debug("worker stopped")
			return
		}

		result := p.process(ctx, job)
		p.record(ctx, logger, result)
	}
}

// process runs one job. A panic is turned into a failed result so the worker keeps going.
func (p *Pool) process(ctx context.Context, job Job) (result JobResult) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			result = JobResult{Job: job, Error: fmt.Errorf("panic: %v", r)}
		}
	}()

	return p.processJob(ctx, job)
}

func (p *Pool) processJob(ctx context.Context, job Job) JobResult {
	result := JobResult{Job: job}

	res, err := p.client.Resolve(ctx, job.ProductType, job.TimestampMs)
	if err != nil {
		result.Error = fmt.Errorf("resolving: %w", err)
		return result
	}

	outputPath, err := p.store.Destination(res.Key)
	if err != nil {
		result.Error = err
		return result
	}
	result.Path = outputPath

	// Check if file exists (resume)
	if p.store.Exists(outputPath) {
		p.logger.Info("skip existing file", zap.String("job", job.String()), zap.String("path", outputPath))
		result.Skipped = true
		result.Success = true
		return result
	}

	p.logger.Info("downloading", zap.String("job", job.String()), zap.String("path", outputPath))

	size, err := p.store.Download(ctx, p.client, res.URL, outputPath)
	if err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	result.BytesSize = size
	return result
}

func (p *Pool) record(ctx context.Context, logger *zap.Logger, r JobResult) {
	switch {
	case r.Skipped:
		p.skipped.Add(1)

	case r.Success:
		p.downloaded.Add(1)
		p.bytes.Add(r.BytesSize)
		logger.Info("downloaded",
			zap.String("job", r.Job.String()),
			zap.String("path", r.Path),
			zap.Int64("bytes", r.BytesSize),
		)
		if err := p.notifier.Downloaded(ctx, r.Job.String(), r.Path, r.BytesSize); err != nil {
			logger.Warn("failed to send notification", zap.Error(err))
		}

	default:
		p.failed.Add(1)
		logger.Error("download job failed", zap.String("job", r.Job.String()), zap.Error(r.Error))
		if err := p.notifier.Failed(ctx, r.Job.String(), r.Error); err != nil {
			logger.Warn("failed to send notification", zap.Error(err))
		}
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Downloaded: p.downloaded.Load(),
		Skipped:    p.skipped.Load(),
		Failed:     p.failed.Load(),
		InFlight:   p.inFlight.Load(),
		Bytes:      p.bytes.Load(),
	}
}
