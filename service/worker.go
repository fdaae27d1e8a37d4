// Package service runs the validation worker: a paced dequeue loop that
// dispatches jobs to the pipeline engine matching their validation type,
// persists the run record, and settles the queue message according to the
// outcome. Transient failures go back on the queue after a delay; jobs that
// cannot succeed, or that exceeded their delivery budget, are dead-lettered.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/queue"
	"github.com/c360/dcvalidate/repository"
	"github.com/c360/dcvalidate/types"
)

// Runner executes one validation job and returns its run record. Satisfied
// by *pipeline.Engine.
type Runner interface {
	Run(ctx context.Context, runID string, job types.ValidationJob) (*types.Run, error)
}

// Config paces the worker and bounds redelivery.
type Config struct {
	// DequeueBatch is the maximum messages fetched per cycle.
	DequeueBatch int
	// RatePerSecond paces dequeue cycles.
	RatePerSecond float64
	// RateBurst is the limiter burst size.
	RateBurst int
	// RetryDelay is the visibility delay applied to transient failures.
	RetryDelay time.Duration
	// MaxDequeueCount is the delivery budget before dead-lettering.
	MaxDequeueCount int
	// DefaultRuleSets fills a job's empty RuleSetID by validation type.
	DefaultRuleSets map[types.ValidationType]string
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		DequeueBatch:    4,
		RatePerSecond:   2,
		RateBurst:       4,
		RetryDelay:      30 * time.Second,
		MaxDequeueCount: 5,
	}
}

// Worker drains the job queue into the validation runners.
type Worker struct {
	cfg     Config
	queue   queue.JobQueue
	runners map[types.ValidationType]Runner
	runs    repository.RunRepository
	dead    DeadLetter
	limiter *rate.Limiter
	metrics *Metrics
	logger  *slog.Logger
}

// WorkerOption configures optional collaborators.
type WorkerOption func(*Worker)

// WithDeadLetter routes undeliverable jobs to dl instead of dropping them.
func WithDeadLetter(dl DeadLetter) WorkerOption {
	return func(w *Worker) { w.dead = dl }
}

// WithWorkerMetrics attaches job outcome metrics.
func WithWorkerMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker assembles a worker. runs may be nil when run records are not
// persisted (tests, dry runs).
func NewWorker(cfg Config, q queue.JobQueue, runners map[types.ValidationType]Runner, runs repository.RunRepository, opts ...WorkerOption) (*Worker, error) {
	if q == nil {
		return nil, errors.WrapInvalid(nil, "service", "NewWorker", "queue cannot be nil")
	}
	if len(runners) == 0 {
		return nil, errors.WrapInvalid(nil, "service", "NewWorker", "at least one runner is required")
	}

	def := DefaultConfig()
	if cfg.DequeueBatch <= 0 {
		cfg.DequeueBatch = def.DequeueBatch
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxDequeueCount <= 0 {
		cfg.MaxDequeueCount = def.MaxDequeueCount
	}

	w := &Worker{
		cfg:     cfg,
		queue:   q,
		runners: runners,
		runs:    runs,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		logger:  slog.Default().With("component", "service.Worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run drains the queue until ctx is canceled. Dequeue errors are logged and
// retried on the next cycle; they never stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started",
		"dequeue_batch", w.cfg.DequeueBatch,
		"rate_per_second", w.cfg.RatePerSecond,
		"max_dequeue_count", w.cfg.MaxDequeueCount)

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			w.logger.Info("Worker stopped")
			return nil
		}

		if _, err := w.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker stopped")
				return nil
			}
			w.logger.Warn("Dequeue cycle failed", "error", err)
		}
	}
}

// ProcessOnce performs one dequeue cycle and returns how many jobs it
// handled. Exposed so callers can drive the loop themselves.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	msgs, err := w.queue.Dequeue(ctx, w.cfg.DequeueBatch)
	if err != nil {
		return 0, errors.Wrap(err, "service", "ProcessOnce", "job dequeue")
	}

	for i := range msgs {
		w.handle(ctx, &msgs[i])
	}
	return len(msgs), nil
}

func (w *Worker) handle(ctx context.Context, msg *queue.Message) {
	logger := w.logger.With(
		"job_id", msg.Job.ID,
		"dc", msg.Job.DcName,
		"type", string(msg.Job.Type),
		"dequeue_count", msg.DequeueCount)

	if msg.DequeueCount > w.cfg.MaxDequeueCount {
		w.deadLetter(ctx, msg,
			fmt.Sprintf("delivery budget of %d exceeded", w.cfg.MaxDequeueCount), logger)
		return
	}

	runner, ok := w.runners[msg.Job.Type]
	if !ok {
		w.deadLetter(ctx, msg,
			fmt.Sprintf("no runner for validation type %q", msg.Job.Type), logger)
		return
	}

	job := msg.Job
	if job.RuleSetID == "" {
		job.RuleSetID = w.cfg.DefaultRuleSets[job.Type]
	}

	runID := uuid.NewString()
	run, runErr := runner.Run(ctx, runID, job)
	w.saveRun(ctx, run, logger)

	switch {
	case runErr == nil:
		w.metrics.incJob(outcomeSuccess)
		if err := w.queue.Delete(ctx, msg); err != nil {
			// The run succeeded; redelivery will be caught by result
			// idempotence downstream.
			logger.Error("Job settle failed", "run_id", runID, "error", err)
		}

	case errors.Classify(runErr) == errors.ErrorTransient:
		w.metrics.incJob(outcomeRetried)
		logger.Warn("Job failed, scheduling retry",
			"run_id", runID, "delay", w.cfg.RetryDelay, "error", runErr)
		if err := w.queue.ResetVisibility(ctx, msg, w.cfg.RetryDelay); err != nil {
			logger.Error("Visibility reset failed", "run_id", runID, "error", err)
		}

	default:
		// Invalid or fatal: another delivery cannot change the outcome.
		w.deadLetter(ctx, msg, runErr.Error(), logger)
	}
}

func (w *Worker) saveRun(ctx context.Context, run *types.Run, logger *slog.Logger) {
	if run == nil || w.runs == nil {
		return
	}
	if err := w.runs.SaveRun(ctx, run); err != nil {
		logger.Error("Run record save failed", "run_id", run.ID, "error", err)
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg *queue.Message, reason string, logger *slog.Logger) {
	logger.Error("Dead-lettering job", "reason", reason)

	if w.dead != nil {
		if err := w.dead.Publish(ctx, msg.Job, reason, msg.DequeueCount); err != nil {
			logger.Error("Dead-letter publish failed", "error", err)
			// Keep the message; the next delivery retries the hand-off.
			if resetErr := w.queue.ResetVisibility(ctx, msg, w.cfg.RetryDelay); resetErr != nil {
				logger.Error("Visibility reset failed", "error", resetErr)
			}
			return
		}
	}

	w.metrics.incDeadLettered()
	w.metrics.incJob(outcomeDeadLettered)
	if err := w.queue.Delete(ctx, msg); err != nil {
		logger.Error("Job settle failed", "error", err)
	}
}
