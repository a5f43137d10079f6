package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/radar-downloader/internal/download"
	"github.com/dgnsrekt/radar-downloader/internal/feed"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []download.Job
	full bool
}

func (q *recordingQueue) TryEnqueue(job download.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.jobs = append(q.jobs, job)
	return true
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDispatcher(t *testing.T, q Enqueuer, clock *fakeClock, opts ...Option) *Dispatcher {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	opts = append([]Option{WithClock(clock.Now), WithLogger(logger)}, opts...)
	return New([]string{"vmi", " SRI "}, q, opts...)
}

func TestDispatcher_FiltersByAllowlist(t *testing.T) {
	q := &recordingQueue{}
	d := newTestDispatcher(t, q, &fakeClock{now: time.Unix(0, 0)})

	for i, p := range []string{"TEMP", "", "VMIX", "sri2"} {
		d.HandleEvent(feed.ProductEvent{ProductType: p, TimestampMs: int64(i)})
	}

	if q.count() != 0 {
		t.Errorf("filtered events must never be enqueued, got %d jobs", q.count())
	}
	if s := d.Stats(); s.Filtered != 4 || s.Tracked != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDispatcher_CaseInsensitive(t *testing.T) {
	q := &recordingQueue{}
	d := newTestDispatcher(t, q, &fakeClock{now: time.Unix(0, 0)})

	d.HandleEvent(feed.ProductEvent{ProductType: "sri", TimestampMs: 1})

	if q.count() != 1 || q.jobs[0].ProductType != "SRI" {
		t.Fatalf("expected one SRI job, got %+v", q.jobs)
	}
}

func TestDispatcher_Deduplicates(t *testing.T) {
	q := &recordingQueue{}
	d := newTestDispatcher(t, q, &fakeClock{now: time.Unix(0, 0)})

	ev := feed.ProductEvent{ProductType: "VMI", TimestampMs: 1700000000000}
	d.HandleEvent(ev)
	d.HandleEvent(ev)
	d.HandleEvent(feed.ProductEvent{ProductType: "VMI", TimestampMs: 1700000300000})
	d.HandleEvent(feed.ProductEvent{ProductType: "SRI", TimestampMs: 1700000000000})

	if q.count() != 3 {
		t.Fatalf("expected 3 jobs, got %d", q.count())
	}
	if s := d.Stats(); s.Duplicates != 1 || s.Accepted != 3 || s.Tracked != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDispatcher_ReapReopensKeyAfterRetention(t *testing.T) {
	q := &recordingQueue{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	d := newTestDispatcher(t, q, clock)

	ev := feed.ProductEvent{ProductType: "VMI", TimestampMs: 42}
	d.HandleEvent(ev)

	clock.Advance(2 * time.Hour)
	d.HandleEvent(feed.ProductEvent{ProductType: "SRI", TimestampMs: 43})
	if n := d.Reap(clock.Now()); n != 0 {
		t.Errorf("nothing is older than the retention window yet, reaped %d", n)
	}
	d.HandleEvent(ev)
	if q.count() != 2 {
		t.Fatalf("duplicate inside the window must be dropped, got %d jobs", q.count())
	}

	clock.Advance(time.Hour + time.Minute)
	if n := d.Reap(clock.Now()); n != 1 {
		t.Errorf("expected 1 reaped entry, got %d", n)
	}
	d.HandleEvent(ev)
	if q.count() != 3 {
		t.Errorf("key should be accepted again after reaping, got %d jobs", q.count())
	}
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	q := &recordingQueue{full: true}
	d := newTestDispatcher(t, q, &fakeClock{now: time.Unix(0, 0)})

	ev := feed.ProductEvent{ProductType: "VMI", TimestampMs: 1}
	d.HandleEvent(ev)
	q.full = false
	d.HandleEvent(ev)

	s := d.Stats()
	if s.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %+v", s)
	}
	// The key stays remembered even though its job was shed.
	if s.Duplicates != 1 || q.count() != 0 {
		t.Errorf("dropped key should still suppress repeats, got %+v jobs=%d", s, q.count())
	}
}

func TestDispatcher_MaxTrackedEvictsOldest(t *testing.T) {
	q := &recordingQueue{}
	d := newTestDispatcher(t, q, &fakeClock{now: time.Unix(0, 0)}, WithMaxTracked(2))

	for ts := int64(1); ts <= 3; ts++ {
		d.HandleEvent(feed.ProductEvent{ProductType: "VMI", TimestampMs: ts})
	}
	if s := d.Stats(); s.Tracked != 2 {
		t.Errorf("expected 2 tracked keys, got %d", s.Tracked)
	}
	d.HandleEvent(feed.ProductEvent{ProductType: "VMI", TimestampMs: 1})
	if q.count() != 4 {
		t.Errorf("evicted key should be accepted again, got %d jobs", q.count())
	}
}

func TestDispatcher_RunReaperStopsOnCancel(t *testing.T) {
	d := New([]string{"VMI"}, &recordingQueue{}, WithReapInterval(5*time.Millisecond), WithRetention(time.Millisecond))
	d.HandleEvent(feed.ProductEvent{ProductType: "VMI", TimestampMs: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.RunReaper(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Tracked != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Stats().Tracked != 0 {
		t.Error("reaper did not remove the expired entry")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
