package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Queue for tests and single-binary setups.
type Memory struct {
	mu         sync.Mutex
	pending    []Job
	processing []Job
	notify     chan struct{}
	closed     bool
}

var _ Queue = (*Memory)(nil)

// NewMemory returns an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (m *Memory) Enqueue(_ context.Context, j Job) error {
	m.mu.Lock()
	if j.Attempt == 0 {
		j.Attempt = 1
	}
	j.EnqueuedAt = time.Now().UTC()
	m.pending = append(m.pending, j)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			j := m.pending[0]
			m.pending = m.pending[1:]
			m.processing = append(m.processing, j)
			m.mu.Unlock()
			return j, true, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, false, ctx.Err()
		case <-deadline.C:
			return Job{}, false, nil
		case <-m.notify:
		}
	}
}

func (m *Memory) Ack(_ context.Context, j Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.processing {
		if p.DocumentID == j.DocumentID && p.Attempt == j.Attempt {
			m.processing = append(m.processing[:i], m.processing[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) Requeue(ctx context.Context, j Job) error {
	if err := m.Ack(ctx, j); err != nil {
		return err
	}
	j.Attempt++
	return m.Enqueue(ctx, j)
}

func (m *Memory) RecoverOrphans(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	moved := len(m.processing)
	m.pending = append(m.processing, m.pending...)
	m.processing = nil
	if moved > 0 {
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	return moved, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *Memory) Close() error {
	return nil
}
