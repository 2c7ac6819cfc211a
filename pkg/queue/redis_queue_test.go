package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, cfg RedisQueueConfig) *RedisJobQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if cfg.Stream == "" {
		cfg.Stream = "test:queue"
	}
	if cfg.Group == "" {
		cfg.Group = "test-group"
	}
	q, err := NewRedisJobQueue(client, cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

// readPending enqueues job and reads it into consumer-1's pending list.
func readPending(t *testing.T, q *RedisJobQueue, job Job) redis.XMessage {
	t.Helper()
	ctx := context.Background()
	q.ensureGroup(ctx)
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return streams[0].Messages[0]
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{RetryDelay: time.Millisecond})
	ctx := context.Background()
	msg := readPending(t, q, Job{BookID: "book-1", Title: "Dune", Author: "Frank Herbert"})

	job, _ := decodeJob(msg.Values)
	job.Attempts = 1
	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	got, ok := decodeJob(streams[0].Messages[0].Values)
	if !ok || got != job {
		t.Fatalf("requeued job = %+v, want %+v", got, job)
	}
}

func TestRedisJobQueueRequeueFailureKeepsPendingMessage(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{RetryDelay: time.Millisecond})
	ctx := context.Background()
	msg := readPending(t, q, Job{BookID: "book-1"})

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceled, msg.ID, Job{BookID: "book-1"}); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
}

func TestRedisJobQueueRetriesThenDrops(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{RetryDelay: time.Millisecond, MaxRetries: 3})
	ctx := context.Background()
	msg := readPending(t, q, Job{BookID: "book-1"})

	var attempts []int
	handler := func(_ context.Context, job Job) error {
		attempts = append(attempts, job.Attempts)
		return errors.New("upstream down")
	}
	q.handleMessage(ctx, msg, handler)
	for i := 0; i < 2; i++ {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: "consumer-1",
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    0,
		}).Result()
		if err != nil {
			t.Fatalf("read retry %d: %v", i, err)
		}
		q.handleMessage(ctx, streams[0].Messages[0], handler)
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Fatalf("attempts = %v", attempts)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("stream should be empty after the last attempt, len=%d", n)
	}
}

func TestRedisJobQueueStartDeliversJobs(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{Block: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{})
	q.Start(ctx, 2, func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen[job.BookID] = true
		if len(seen) == 3 {
			close(done)
		}
		return nil
	})
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, Job{BookID: id}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("jobs not delivered, seen %v", seen)
	}
}

func TestEnqueueRequiresBookID(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	if err := q.Enqueue(context.Background(), Job{}); err == nil {
		t.Fatalf("expected error for empty book id")
	}
}
