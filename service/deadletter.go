package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// DeadLetter receives jobs the worker gave up on.
type DeadLetter interface {
	Publish(ctx context.Context, job types.ValidationJob, reason string, deliveries int) error
}

// DeadLetterEnvelope is the published record: the job as received plus why
// and when it was parked.
type DeadLetterEnvelope struct {
	Job        types.ValidationJob `json:"job"`
	Reason     string              `json:"reason"`
	Deliveries int                 `json:"deliveries"`
	FailedAt   time.Time           `json:"failedAt"`
}

// JetStreamDeadLetter publishes envelopes to a JetStream subject. The
// subject must be bound to a stream so parked jobs survive for inspection.
type JetStreamDeadLetter struct {
	js      jetstream.JetStream
	subject string
}

// NewJetStreamDeadLetter creates a dead-letter publisher on the subject.
func NewJetStreamDeadLetter(js jetstream.JetStream, subject string) (*JetStreamDeadLetter, error) {
	if js == nil {
		return nil, errors.WrapInvalid(nil, "service", "NewJetStreamDeadLetter", "jetstream context cannot be nil")
	}
	if subject == "" {
		return nil, errors.WrapInvalid(nil, "service", "NewJetStreamDeadLetter", "subject cannot be empty")
	}
	return &JetStreamDeadLetter{js: js, subject: subject}, nil
}

// Publish parks the job on the dead-letter subject.
func (d *JetStreamDeadLetter) Publish(ctx context.Context, job types.ValidationJob, reason string, deliveries int) error {
	envelope := DeadLetterEnvelope{
		Job:        job,
		Reason:     reason,
		Deliveries: deliveries,
		FailedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return errors.WrapInvalid(err, "service", "Publish", "envelope encoding")
	}
	if _, err := d.js.Publish(ctx, d.subject, data); err != nil {
		return errors.WrapTransient(err, "service", "Publish", "dead-letter publish")
	}
	return nil
}

var _ DeadLetter = (*JetStreamDeadLetter)(nil)
