package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaseScript atomically pops the next job id off the ready list and
// records it in the inflight set with its lease deadline. Doing both in
// one script means a worker crash between the two steps cannot lose a job.
var leaseScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

// RedisQueue is a Redis-backed job queue with at-least-once delivery.
// Ready job ids live in a list; leased ids live in a sorted set scored by
// lease deadline so expired leases can be reclaimed.
type RedisQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	visibility  time.Duration
}

// NewRedisQueue creates a queue on the given client. visibility is the
// lease duration for dequeued jobs; zero means 30 seconds.
func NewRedisQueue(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:      client,
		readyKey:    "ingest:ready",
		inflightKey: "ingest:inflight",
		visibility:  visibility,
	}
}

// Enqueue appends a job id to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, q.readyKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// DequeueWithLease pops the next ready job id and leases it until the
// visibility timeout. It returns "" with a nil error when the queue is
// empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibility).UnixMilli()
	res, err := leaseScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		strconv.FormatInt(deadline, 10),
	).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("dequeue: unexpected script result %T", res)
	}
	return id, nil
}

// Ack releases a leased job. Safe to call for ids that are no longer
// inflight.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.client.ZRem(ctx, q.inflightKey, jobID).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	return nil
}

// RequeueExpired moves jobs whose lease deadline has passed back onto the
// ready list. It returns how many were reclaimed.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired leases: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	return len(ids), nil
}

// ReadyDepth reports how many jobs are waiting to be dequeued.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
