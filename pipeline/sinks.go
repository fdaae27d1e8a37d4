package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// MemorySink accumulates results in memory, for tests and local runs.
type MemorySink struct {
	mu      sync.Mutex
	results []types.ValidationResult
	batches int
	fail    error
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Name identifies the sink in logs.
func (s *MemorySink) Name() string { return "memory" }

// Persist appends the batch.
func (s *MemorySink) Persist(_ context.Context, _ *ExecutionContext, batch []types.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.results = append(s.results, batch...)
	s.batches++
	return nil
}

// Results returns a copy of everything persisted so far.
func (s *MemorySink) Results() []types.ValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ValidationResult, len(s.results))
	copy(out, s.results)
	return out
}

// Batches returns how many Persist calls succeeded.
func (s *MemorySink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// FailWith makes every subsequent Persist return err.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// JetStreamSink publishes each result as one JSON message, so downstream
// consumers (reporting, alerting) receive results as they are produced
// rather than polling a store.
type JetStreamSink struct {
	js      jetstream.JetStream
	subject string
}

// NewJetStreamSink creates a sink publishing to subject.<dcName>.
func NewJetStreamSink(js jetstream.JetStream, subject string) (*JetStreamSink, error) {
	if js == nil {
		return nil, errors.WrapInvalid(nil, "JetStreamSink", "NewJetStreamSink", "jetstream context cannot be nil")
	}
	if subject == "" {
		subject = "dcvalidate.results"
	}
	return &JetStreamSink{js: js, subject: subject}, nil
}

// Name identifies the sink in logs.
func (s *JetStreamSink) Name() string { return "jetstream" }

// Persist publishes every result of the batch.
func (s *JetStreamSink) Persist(ctx context.Context, ec *ExecutionContext, batch []types.ValidationResult) error {
	subject := fmt.Sprintf("%s.%s", s.subject, ec.DcName)
	for i := range batch {
		data, err := json.Marshal(&batch[i])
		if err != nil {
			return errors.WrapInvalid(err, "JetStreamSink", "Persist", "result encoding")
		}
		if _, err := s.js.Publish(ctx, subject, data); err != nil {
			return errors.WrapTransient(err, "JetStreamSink", "Persist", "result publish")
		}
	}
	return nil
}
