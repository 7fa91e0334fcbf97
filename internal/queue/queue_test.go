package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEncodeDecode(t *testing.T) {
	j := Job{DocumentID: 42, Attempt: 2, EnqueuedAt: time.Now().UTC().Truncate(time.Second)}
	data, err := j.encode()
	require.NoError(t, err)

	got, err := decodeJob(data)
	require.NoError(t, err)
	assert.Equal(t, j.DocumentID, got.DocumentID)
	assert.Equal(t, j.Attempt, got.Attempt)
	assert.True(t, j.EnqueuedAt.Equal(got.EnqueuedAt))
}

func TestMemoryEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

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

	require.NoError(t, q.Ack(ctx, j))

	// Acked jobs are gone; nothing to recover.
	moved, err := q.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

func TestMemoryDequeueTimeout(t *testing.T) {
	q := NewMemory()
	start := time.Now()
	_, ok, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryDequeueContextCancel(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := q.Dequeue(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryDequeueWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	done := make(chan Job, 1)
	go func() {
		j, ok, err := q.Dequeue(ctx, 5*time.Second)
		if err == nil && ok {
			done <- j
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 9}))

	select {
	case j := <-done:
		assert.Equal(t, int64(9), j.DocumentID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestMemoryRequeueBumpsAttempt(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 3}))
	j, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Requeue(ctx, j))

	j2, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), j2.DocumentID)
	assert.Equal(t, 2, j2.Attempt)
}

func TestMemoryRecoverOrphans(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	require.NoError(t, q.Enqueue(ctx, Job{DocumentID: 1}))
	_, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate a worker dying without ack.
	moved, err := q.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	j, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), j.DocumentID)
}
