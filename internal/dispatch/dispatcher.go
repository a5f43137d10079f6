// Package dispatch filters feed events, suppresses duplicates and hands the
// survivors to the download queue.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/dgnsrekt/radar-downloader/internal/download"
	"github.com/dgnsrekt/radar-downloader/internal/feed"
)

const (
	DefaultRetention    = 3 * time.Hour
	DefaultReapInterval = 5 * time.Minute
	// Upper bound on remembered keys; the oldest key is forgotten first.
	DefaultMaxTracked = 100_000
)

// Enqueuer accepts jobs without blocking.
type Enqueuer interface {
	TryEnqueue(job download.Job) bool
}

// Stats are cumulative dispatch counters.
type Stats struct {
	Accepted   int64 `json:"accepted"`
	Filtered   int64 `json:"filtered"`
	Duplicates int64 `json:"duplicates"`
	Dropped    int64 `json:"dropped"`
	Tracked    int   `json:"tracked"`
}

type dedupKey struct {
	productType string
	timestampMs int64
}

type Option func(*Dispatcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithRetention(retention time.Duration) Option {
	return func(d *Dispatcher) { d.retention = retention }
}

func WithReapInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.reapInterval = interval }
}

func WithMaxTracked(n int) Option {
	return func(d *Dispatcher) { d.maxTracked = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// Dispatcher implements feed.Handler.
type Dispatcher struct {
	allowed      map[string]struct{}
	queue        Enqueuer
	now          func() time.Time
	retention    time.Duration
	reapInterval time.Duration
	maxTracked   int
	logger       *zap.Logger

	mu   sync.Mutex
	seen *simplelru.LRU[dedupKey, time.Time]

	accepted   atomic.Int64
	filtered   atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
}

var _ feed.Handler = (*Dispatcher)(nil)

func New(allowlist []string, queue Enqueuer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		allowed:      make(map[string]struct{}, len(allowlist)),
		queue:        queue,
		now:          time.Now,
		retention:    DefaultRetention,
		reapInterval: DefaultReapInterval,
		maxTracked:   DefaultMaxTracked,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, p := range allowlist {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			d.allowed[p] = struct{}{}
		}
	}
	if d.maxTracked < 1 {
		d.maxTracked = DefaultMaxTracked
	}
	d.seen, _ = simplelru.NewLRU[dedupKey, time.Time](d.maxTracked, nil)
	return d
}

// HandleEvent filters, deduplicates and enqueues ev. It never blocks on the queue.
func (d *Dispatcher) HandleEvent(ev feed.ProductEvent) {
	productType := strings.ToUpper(ev.ProductType)
	if _, ok := d.allowed[productType]; !ok {
		d.filtered.Add(1)
		d.logger.Debug("product not in allowlist", zap.String("product", productType))
		return
	}

	if !d.markSeen(dedupKey{productType: productType, timestampMs: ev.TimestampMs}) {
		d.duplicates.Add(1)
		d.logger.Debug("duplicate event", zap.String("product", productType), zap.Int64("time", ev.TimestampMs))
		return
	}

	job := download.Job{ProductType: productType, TimestampMs: ev.TimestampMs}
	if !d.queue.TryEnqueue(job) {
		d.dropped.Add(1)
		d.logger.Warn("download queue full, dropping job", zap.String("job", job.String()))
		return
	}

	d.accepted.Add(1)
	d.logger.Info("queued download", zap.String("job", job.String()))
}

// markSeen records k and reports whether it was new.
func (d *Dispatcher) markSeen(k dedupKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen.Contains(k) {
		return false
	}
	d.seen.Add(k, d.now())
	return true
}

// Reap forgets every key first seen more than the retention window before now
// and returns how many were removed.
func (d *Dispatcher) Reap(now time.Time) int {
	cutoff := now.Add(-d.retention)

	d.mu.Lock()
	defer d.mu.Unlock()

	// Keys are inserted in time order and never refreshed, so the oldest is first.
	removed := 0
	for {
		_, firstSeen, ok := d.seen.GetOldest()
		if !ok || !firstSeen.Before(cutoff) {
			return removed
		}
		d.seen.RemoveOldest()
		removed++
	}
}

// RunReaper calls Reap on every reap interval until ctx is done.
func (d *Dispatcher) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(d.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.Reap(d.now()); n > 0 {
				d.logger.Debug("reaped dedup entries", zap.Int("removed", n), zap.Int("tracked", d.tracked()))
			}
		}
	}
}

func (d *Dispatcher) tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Len()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted:   d.accepted.Load(),
		Filtered:   d.filtered.Load(),
		Duplicates: d.duplicates.Load(),
		Dropped:    d.dropped.Load(),
		Tracked:    d.tracked(),
	}
}
