package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookshelf/internal/util"
)

// Job asks a worker to warm the metadata cache for one book.
type Job struct {
	BookID   string
	Title    string
	Author   string
	Attempts int
}

// Handler processes one job. A non-nil error retries the job until the
// attempt budget is spent.
type Handler func(context.Context, Job) error

// RedisQueueConfig configures a stream-backed queue. Zero values take
// defaults.
type RedisQueueConfig struct {
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
}

// RedisJobQueue is an at-least-once job queue on a Redis stream and consumer
// group. Messages left pending by a crashed consumer are reclaimed after
// ClaimIdle.
type RedisJobQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	once         sync.Once
}

// NewRedisJobQueue builds a queue on an existing client.
func NewRedisJobQueue(client redis.UniversalClient, cfg RedisQueueConfig) (*RedisJobQueue, error) {
	if client == nil {
		return nil, errors.New("queue redis client is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	q := &RedisJobQueue{
		client:       client,
		stream:       stream,
		group:        strings.TrimSpace(cfg.Group),
		consumerBase: strings.TrimSpace(cfg.Consumer),
		maxRetries:   cfg.MaxRetries,
		block:        cfg.Block,
		claimIdle:    cfg.ClaimIdle,
		retryDelay:   cfg.RetryDelay,
		maxLen:       cfg.MaxLen,
		readCount:    cfg.ReadCount,
	}
	if q.group == "" {
		q.group = "default"
	}
	if q.consumerBase == "" {
		q.consumerBase = util.NewID()
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 30 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 2 * time.Second
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	return q, nil
}

// Enqueue appends a job to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.BookID) == "" {
		return errors.New("job book id required")
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: encodeJob(job),
	}).Err()
}

// Start runs concurrency consumers until ctx is cancelled.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("queue group create failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for ctx.Err() == nil {
		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				slog.Warn("queue read failed", "stream", q.stream, "err", err)
				q.sleep(ctx)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	job, ok := decodeJob(msg.Values)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempts++
	err := handler(ctx, job)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		slog.Warn("queue job dropped", "stream", q.stream, "book_id", job.BookID, "attempts", job.Attempts, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	q.sleep(ctx)
	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		// Left pending; another consumer reclaims it after claimIdle.
		slog.Warn("queue requeue failed", "stream", q.stream, "book_id", job.BookID, "err", err)
	}
}

func (q *RedisJobQueue) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(q.retryDelay):
	}
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds job with its attempt count and retires the original
// message in one transaction.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID string, job Job) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: encodeJob(job),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func encodeJob(job Job) map[string]any {
	return map[string]any{
		"book_id":  job.BookID,
		"title":    job.Title,
		"author":   job.Author,
		"attempts": strconv.Itoa(job.Attempts),
	}
}

func decodeJob(values map[string]any) (Job, bool) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	job := Job{BookID: str("book_id"), Title: str("title"), Author: str("author")}
	if job.BookID == "" {
		return Job{}, false
	}
	if n, err := strconv.Atoi(str("attempts")); err == nil {
		job.Attempts = n
	}
	return job, true
}
