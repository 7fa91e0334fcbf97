package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docuforge/kbase/internal/kberrors"
)

// Redis implements Queue over two Redis lists. BLMOVE atomically moves a
// job from pending to processing, so a crash between dequeue and ack
// never loses the job.
type Redis struct {
	client *redis.Client
	// pending and processing are derived from the base key.
	pending    string
	processing string
}

var _ Queue = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, url, key string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeConfigInvalid, "parsing redis url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, kberrors.New(kberrors.CodeStorage, "pinging redis", err)
	}
	return &Redis{
		client:     client,
		pending:    key + ":pending",
		processing: key + ":processing",
	}, nil
}

func (r *Redis) Enqueue(ctx context.Context, j Job) error {
	if j.Attempt == 0 {
		j.Attempt = 1
	}
	j.EnqueuedAt = time.Now().UTC()
	data, err := j.encode()
	if err != nil {
		return kberrors.Internal("encoding job", err)
	}
	if err := r.client.LPush(ctx, r.pending, data).Err(); err != nil {
		return kberrors.New(kberrors.CodeStorage, "enqueuing job", err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	data, err := r.client.BLMove(ctx, r.pending, r.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, kberrors.New(kberrors.CodeStorage, "dequeuing job", err)
	}
	j, err := decodeJob([]byte(data))
	if err != nil {
		// Drop the malformed payload so it cannot wedge the queue.
		r.client.LRem(ctx, r.processing, 1, data)
		return Job{}, false, kberrors.Internal("decoding job", err)
	}
	return j, true, nil
}

func (r *Redis) Ack(ctx context.Context, j Job) error {
	data, err := j.encode()
	if err != nil {
		return kberrors.Internal("encoding job", err)
	}
	if err := r.client.LRem(ctx, r.processing, 1, data).Err(); err != nil {
		return kberrors.New(kberrors.CodeStorage, "acking job", err)
	}
	return nil
}

func (r *Redis) Requeue(ctx context.Context, j Job) error {
	next := j
	next.Attempt++
	data, err := next.encode()
	if err != nil {
		return kberrors.Internal("encoding job", err)
	}
	// Push before removing: a crash between the two duplicates the job
	// rather than losing it, and duplicate deliveries are no-ops.
	if err := r.client.LPush(ctx, r.pending, data).Err(); err != nil {
		return kberrors.New(kberrors.CodeStorage, "requeuing job", err)
	}
	return r.Ack(ctx, j)
}

func (r *Redis) RecoverOrphans(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := r.client.LMove(ctx, r.processing, r.pending, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, kberrors.New(kberrors.CodeStorage, "recovering orphaned jobs", err)
		}
		moved++
	}
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.pending).Result()
	if err != nil {
		return 0, kberrors.New(kberrors.CodeStorage, "reading backlog length", err)
	}
	return int(n), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
