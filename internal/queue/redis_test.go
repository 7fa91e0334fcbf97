package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := NewRedis(context.Background(), "redis://"+srv.Addr(), "kbase:convert")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, srv
}

func TestRedisEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, srv := newRedisQueue(t)

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 1}))
	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 2}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	j, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), j.DocumentID)
	assert.Equal(t, 1, j.Attempt)

	// Dequeue parks the job in the processing list until ack.
	parked, err := srv.List("kbase:convert:processing")
	require.NoError(t, err)
	assert.Len(t, parked, 1)

	require.NoError(t, q.Ack(ctx, j))
	assert.False(t, srv.Exists("kbase:convert:processing"))
}

func TestRedisRequeueBumpsAttempt(t *testing.T) {
	ctx := context.Background()
	q, srv := newRedisQueue(t)

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 7}))
	j, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Requeue(ctx, j))

	// The bumped copy is pending and the in-flight entry is gone.
	assert.False(t, srv.Exists("kbase:convert:processing"))
	j2, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), j2.DocumentID)
	assert.Equal(t, 2, j2.Attempt)
}

func TestRedisRequeueToleratesMissingProcessingEntry(t *testing.T) {
	ctx := context.Background()
	q, srv := newRedisQueue(t)

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 7}))
	j, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Orphan recovery on another worker already reclaimed the entry.
	srv.Del("kbase:convert:processing")

	require.NoError(t, q.Requeue(ctx, j))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisRecoverOrphans(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t)

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 1}))
	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 2}))
	for i := 0; i < 2; i++ {
		_, ok, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}

	moved, err := q.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisDequeueTimeout(t *testing.T) {
	q, _ := newRedisQueue(t)

	_, ok, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisMalformedPayloadDropped(t *testing.T) {
	ctx := context.Background()
	q, srv := newRedisQueue(t)

	_, err := srv.Lpush("kbase:convert:pending", "not json")
	require.NoError(t, err)

	_, ok, err := q.Dequeue(ctx, time.Second)
	require.Error(t, err)
	assert.False(t, ok)
	// The bad payload must not wedge the processing list.
	assert.False(t, srv.Exists("kbase:convert:processing"))
}
