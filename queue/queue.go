// Package queue provides the validation job queue: enqueue, visibility-based
// dequeue, visibility reset for retry, and delete on completion. The
// production implementation rides on a JetStream pull consumer where AckWait
// is the visibility timeout, Nak-with-delay resets visibility and Ack
// deletes.
package queue

import (
	"context"
	"time"

	"github.com/c360/dcvalidate/types"
)

// Message is one dequeued job plus the receipt state needed to settle it.
type Message struct {
	ID  string
	Job types.ValidationJob
	// DequeueCount is how many times this message has been delivered,
	// including the current delivery. Drives dead-lettering.
	DequeueCount int

	receipt receipt
}

// receipt settles a delivery: release back onto the queue after a delay, or
// remove for good.
type receipt interface {
	release(delay time.Duration) error
	remove() error
}

// JobQueue is the scheduling contract between the external scheduler and the
// validation workers.
type JobQueue interface {
	// Enqueue publishes a job. Jobs with the same ID within the dedupe
	// window are accepted once.
	Enqueue(ctx context.Context, job types.ValidationJob) error

	// Dequeue returns up to max messages, each invisible to other workers
	// until settled or the visibility timeout lapses. An empty queue
	// returns an empty slice, not an error.
	Dequeue(ctx context.Context, max int) ([]Message, error)

	// ResetVisibility releases the message back onto the queue after delay,
	// for transient failures.
	ResetVisibility(ctx context.Context, msg *Message, delay time.Duration) error

	// Delete removes a settled message.
	Delete(ctx context.Context, msg *Message) error
}
