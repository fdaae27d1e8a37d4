package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// JetStreamQueue backs JobQueue with a durable pull consumer.
type JetStreamQueue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	subject  string
	maxWait  time.Duration
}

// JetStreamConfig names the stream resources and the visibility window.
type JetStreamConfig struct {
	Stream     string
	Subject    string
	Durable    string
	Visibility time.Duration
	// FetchMaxWait bounds how long an empty Dequeue blocks.
	FetchMaxWait time.Duration
}

func (c *JetStreamConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "DCVALIDATE_JOBS"
	}
	if c.Subject == "" {
		c.Subject = "dcvalidate.jobs"
	}
	if c.Durable == "" {
		c.Durable = "dcvalidate-worker"
	}
	if c.Visibility <= 0 {
		c.Visibility = 5 * time.Minute
	}
	if c.FetchMaxWait <= 0 {
		c.FetchMaxWait = 2 * time.Second
	}
}

// NewJetStreamQueue creates the stream and durable consumer if they do not
// exist. AckWait is the visibility timeout: an unsettled message redelivers
// once it lapses.
func NewJetStreamQueue(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamQueue, error) {
	if js == nil {
		return nil, errors.WrapInvalid(nil, "queue", "NewJetStreamQueue", "jetstream context cannot be nil")
	}
	cfg.applyDefaults()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "queue", "NewJetStreamQueue", "stream creation")
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   cfg.Durable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   cfg.Visibility,
		// Redelivery is unbounded here; the worker dead-letters by
		// DequeueCount.
		MaxDeliver: -1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "queue", "NewJetStreamQueue", "consumer creation")
	}

	return &JetStreamQueue{
		js:       js,
		consumer: consumer,
		subject:  cfg.Subject,
		maxWait:  cfg.FetchMaxWait,
	}, nil
}

// Enqueue publishes the job, deduplicated by job id.
func (q *JetStreamQueue) Enqueue(ctx context.Context, job types.ValidationJob) error {
	if job.ID == "" {
		return errors.WrapInvalid(nil, "queue", "Enqueue", "job id cannot be empty")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return errors.WrapInvalid(err, "queue", "Enqueue", "job encoding")
	}
	if _, err := q.js.Publish(ctx, q.subject, data, jetstream.WithMsgID(job.ID)); err != nil {
		return errors.WrapTransient(err, "queue", "Enqueue", "job publish")
	}
	return nil
}

// Dequeue fetches up to max messages.
func (q *JetStreamQueue) Dequeue(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	batch, err := q.consumer.Fetch(max, jetstream.FetchMaxWait(q.maxWait))
	if err != nil {
		return nil, errors.WrapTransient(err, "queue", "Dequeue", "message fetch")
	}

	var out []Message
	for msg := range batch.Messages() {
		decoded, err := q.decode(msg)
		if err != nil {
			// A poison message would otherwise redeliver forever.
			_ = msg.Term()
			continue
		}
		out = append(out, decoded)
	}
	if err := batch.Error(); err != nil {
		return out, errors.WrapTransient(err, "queue", "Dequeue", "batch completion")
	}
	return out, nil
}

func (q *JetStreamQueue) decode(msg jetstream.Msg) (Message, error) {
	var job types.ValidationJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return Message{}, errors.WrapInvalid(err, "queue", "decode", "job decoding")
	}

	count := 1
	if meta, err := msg.Metadata(); err == nil {
		count = int(meta.NumDelivered)
	}

	return Message{
		ID:           job.ID,
		Job:          job,
		DequeueCount: count,
		receipt:      jetStreamReceipt{msg: msg},
	}, nil
}

// ResetVisibility redelivers the message after delay.
func (q *JetStreamQueue) ResetVisibility(_ context.Context, msg *Message, delay time.Duration) error {
	if msg == nil || msg.receipt == nil {
		return errors.WrapInvalid(nil, "queue", "ResetVisibility", "message has no receipt")
	}
	if err := msg.receipt.release(delay); err != nil {
		return errors.WrapTransient(err, "queue", "ResetVisibility", "message nak")
	}
	return nil
}

// Delete acknowledges the message, removing it from the work queue.
func (q *JetStreamQueue) Delete(_ context.Context, msg *Message) error {
	if msg == nil || msg.receipt == nil {
		return errors.WrapInvalid(nil, "queue", "Delete", "message has no receipt")
	}
	if err := msg.receipt.remove(); err != nil {
		return errors.WrapTransient(err, "queue", "Delete", "message ack")
	}
	return nil
}

type jetStreamReceipt struct {
	msg jetstream.Msg
}

func (r jetStreamReceipt) release(delay time.Duration) error {
	if delay <= 0 {
		return r.msg.Nak()
	}
	return r.msg.NakWithDelay(delay)
}

func (r jetStreamReceipt) remove() error {
	return r.msg.Ack()
}

var _ JobQueue = (*JetStreamQueue)(nil)

// String implements fmt.Stringer for logging.
func (q *JetStreamQueue) String() string {
	return fmt.Sprintf("jetstream-queue(%s)", q.subject)
}
