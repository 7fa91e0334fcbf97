// Package queue carries conversion jobs from the API process to the
// worker pool. Delivery is at-least-once: a job moves to a processing
// list on dequeue and is removed only on ack, so a crashed worker's jobs
// can be requeued.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job is one conversion request.
type Job struct {
	DocumentID int64 `json:"document_id"`
	// Attempt counts deliveries, starting at 1.
	Attempt int `json:"attempt"`
	// EnqueuedAt is set by Enqueue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (j Job) encode() ([]byte, error) {
	return json.Marshal(j)
}

func decodeJob(data []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(data, &j)
	return j, err
}

// Queue is the conversion job broker contract.
type Queue interface {
	// Enqueue adds a job to the pending list.
	Enqueue(ctx context.Context, j Job) error

	// Dequeue blocks up to timeout for the next job and moves it to the
	// processing list. Returns ok=false on timeout.
	Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error)

	// Ack removes a completed job from the processing list.
	Ack(ctx context.Context, j Job) error

	// Requeue moves a failed job back to pending with Attempt bumped.
	Requeue(ctx context.Context, j Job) error

	// RecoverOrphans moves every processing-list job back to pending.
	// Called on worker startup to reclaim jobs from dead workers.
	RecoverOrphans(ctx context.Context) (int, error)

	// Len reports the pending backlog size.
	Len(ctx context.Context) (int, error)

	Close() error
}
