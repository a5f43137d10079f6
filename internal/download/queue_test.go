package download

import (
	"context"
	"testing"
	"time"
)

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2)

	if !q.TryEnqueue(Job{ProductType: "VMI", TimestampMs: 1}) || !q.TryEnqueue(Job{ProductType: "VMI", TimestampMs: 2}) {
		t.Fatal("enqueue below capacity failed")
	}
	if q.TryEnqueue(Job{ProductType: "VMI", TimestampMs: 3}) {
		t.Error("enqueue on a full queue should fail")
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Errorf("unexpected len/cap %d/%d", q.Len(), q.Cap())
	}
}

func TestQueue_FIFOAndDrainAfterClose(t *testing.T) {
	q := NewQueue(3)
	for i := int64(1); i <= 3; i++ {
		q.TryEnqueue(Job{ProductType: "SRI", TimestampMs: i})
	}
	q.Close()
	q.Close() // idempotent

	if q.TryEnqueue(Job{ProductType: "SRI", TimestampMs: 4}) {
		t.Error("enqueue after close should fail")
	}

	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		job, ok := q.Dequeue(ctx)
		if !ok || job.TimestampMs != want {
			t.Fatalf("expected job %d, got %+v ok=%v", want, job, ok)
		}
	}
	if _, ok := q.Dequeue(ctx); ok {
		t.Error("drained closed queue should report !ok")
	}
}

func TestQueue_DequeueHonoursContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, ok := q.Dequeue(ctx); ok {
		t.Error("expected !ok on context timeout")
	}
	if time.Since(start) > time.Second {
		t.Error("dequeue did not return promptly")
	}
}

func TestQueue_DefaultSize(t *testing.T) {
	if q := NewQueue(0); q.Cap() != DefaultQueueSize {
		t.Errorf("expected default capacity %d, got %d", DefaultQueueSize, q.Cap())
	}
}

func TestJobString(t *testing.T) {
	job := Job{ProductType: "VMI", TimestampMs: 1700000000000}
	if job.String() != "VMI/2023-11-14T22:13Z" {
		t.Errorf("unexpected String: %s", job.String())
	}
}
