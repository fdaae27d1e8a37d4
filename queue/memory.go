package queue

import (
	"context"
	"sync"
	"time"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// MemoryQueue is an in-memory JobQueue with visibility semantics, for tests
// and local development.
type MemoryQueue struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string
	visibility time.Duration
	now        func() time.Time
}

type memoryEntry struct {
	job          types.ValidationJob
	visibleAt    time.Time
	dequeueCount int
}

// NewMemoryQueue creates an empty queue with the given visibility timeout.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &MemoryQueue{
		entries:    make(map[string]*memoryEntry),
		visibility: visibility,
		now:        time.Now,
	}
}

// Enqueue adds the job; duplicate ids are accepted once.
func (q *MemoryQueue) Enqueue(_ context.Context, job types.ValidationJob) error {
	if job.ID == "" {
		return errors.WrapInvalid(nil, "queue", "Enqueue", "job id cannot be empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[job.ID]; exists {
		return nil
	}
	q.entries[job.ID] = &memoryEntry{job: job, visibleAt: q.now()}
	q.order = append(q.order, job.ID)
	return nil
}

// Dequeue returns up to max currently visible messages and hides them for
// the visibility window.
func (q *MemoryQueue) Dequeue(_ context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	for _, id := range q.order {
		if len(out) >= max {
			break
		}
		entry, ok := q.entries[id]
		if !ok || entry.visibleAt.After(now) {
			continue
		}
		entry.visibleAt = now.Add(q.visibility)
		entry.dequeueCount++
		out = append(out, Message{
			ID:           id,
			Job:          entry.job,
			DequeueCount: entry.dequeueCount,
			receipt:      memoryReceipt{q: q, id: id},
		})
	}
	return out, nil
}

// ResetVisibility makes the message visible again after delay.
func (q *MemoryQueue) ResetVisibility(_ context.Context, msg *Message, delay time.Duration) error {
	if msg == nil || msg.receipt == nil {
		return errors.WrapInvalid(nil, "queue", "ResetVisibility", "message has no receipt")
	}
	return msg.receipt.release(delay)
}

// Delete removes the message permanently.
func (q *MemoryQueue) Delete(_ context.Context, msg *Message) error {
	if msg == nil || msg.receipt == nil {
		return errors.WrapInvalid(nil, "queue", "Delete", "message has no receipt")
	}
	return msg.receipt.remove()
}

// Len returns how many messages remain, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SetNow injects a clock for tests.
func (q *MemoryQueue) SetNow(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

type memoryReceipt struct {
	q  *MemoryQueue
	id string
}

func (r memoryReceipt) release(delay time.Duration) error {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	if entry, ok := r.q.entries[r.id]; ok {
		entry.visibleAt = r.q.now().Add(delay)
	}
	return nil
}

func (r memoryReceipt) remove() error {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	delete(r.q.entries, r.id)
	return nil
}

var _ JobQueue = (*MemoryQueue)(nil)
