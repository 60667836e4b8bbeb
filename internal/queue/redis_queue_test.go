package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, visibility time.Duration) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisQueue(client, visibility), mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "job-2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, err := q.ReadyDepth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("depth: got %d", depth)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "job-1" {
		t.Errorf("expected FIFO order, got %q", id)
	}

	depth, _ = q.ReadyDepth(ctx)
	if depth != 1 {
		t.Errorf("depth after dequeue: got %d", depth)
	}

	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)

	id, err := q.DequeueWithLease(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
}

func TestRequeueExpired(t *testing.T) {
	q, _ := newTestQueue(t, 50*time.Millisecond)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "job-1" {
		t.Fatalf("dequeue: %q, %v", id, err)
	}

	// Lease still live: nothing to reclaim.
	n, err := q.RequeueExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 reclaimed, got %d", n)
	}

	// Past the deadline the job goes back on the ready list.
	n, err = q.RequeueExpired(ctx, time.Now().Add(time.Second), 100)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reclaimed, got %d", n)
	}

	id, err = q.DequeueWithLease(ctx)
	if err != nil || id != "job-1" {
		t.Errorf("redelivery: got %q, %v", id, err)
	}
}

func TestAckRemovesLease(t *testing.T) {
	q, _ := newTestQueue(t, 50*time.Millisecond)
	ctx := context.Background()

	q.Enqueue(ctx, "job-1")
	id, _ := q.DequeueWithLease(ctx)
	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}

	n, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 100)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 0 {
		t.Errorf("acked job must not be reclaimed, got %d", n)
	}
}
