package pipeline

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/pkg/retry"
	"github.com/c360/dcvalidate/pkg/worker"
	"github.com/c360/dcvalidate/types"
)

// Config bounds the engine's concurrency and batching.
type Config struct {
	// Parallelism is the transform stage worker count.
	Parallelism int
	// BufferCapacity bounds the inter-stage channels.
	BufferCapacity int
	// PersistenceBatchSize groups results before the sink write.
	PersistenceBatchSize int
	// ProcessTimeout bounds one run unless the job carries its own.
	ProcessTimeout time.Duration
	// DrainTimeout bounds waiting for in-flight work at shutdown.
	DrainTimeout time.Duration
	// PersistRetry drives retries against the primary sink.
	PersistRetry retry.Config
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Parallelism:          8,
		BufferCapacity:       256,
		PersistenceBatchSize: 100,
		ProcessTimeout:       10 * time.Minute,
		DrainTimeout:         30 * time.Second,
		PersistRetry:         retry.DefaultConfig(),
	}
}

// Engine wires one producer, the ordered enrichers, one transformer and the
// sinks into a run. The first sink is primary; its failure fails the run.
type Engine struct {
	cfg         Config
	producer    Producer
	enrichers   []Enricher
	transformer Transformer
	sinks       []Sink
	metrics     *Metrics
	logger      *slog.Logger
}

// NewEngine assembles an engine. Enrichers are applied in ascending
// ApplyOrder regardless of the order given.
func NewEngine(cfg Config, producer Producer, enrichers []Enricher, transformer Transformer, sinks []Sink, opts ...EngineOption) (*Engine, error) {
	if producer == nil {
		return nil, errors.WrapInvalid(nil, "pipeline", "NewEngine", "producer cannot be nil")
	}
	if transformer == nil {
		return nil, errors.WrapInvalid(nil, "pipeline", "NewEngine", "transformer cannot be nil")
	}
	if len(sinks) == 0 {
		return nil, errors.WrapInvalid(nil, "pipeline", "NewEngine", "at least one sink is required")
	}

	def := DefaultConfig()
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = def.BufferCapacity
	}
	if cfg.PersistenceBatchSize <= 0 {
		cfg.PersistenceBatchSize = def.PersistenceBatchSize
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.PersistRetry.MaxAttempts <= 0 {
		cfg.PersistRetry = def.PersistRetry
	}

	ordered := make([]Enricher, len(enrichers))
	copy(ordered, enrichers)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ApplyOrder() < ordered[j].ApplyOrder() })

	e := &Engine{
		cfg:         cfg,
		producer:    producer,
		enrichers:   ordered,
		transformer: transformer,
		sinks:       sinks,
		logger:      slog.Default().With("component", "pipeline.Engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithMetrics attaches stage metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// Run executes one validation job end to end and returns the run record.
// The record is returned for failed runs too, with Succeed=false and the
// failure message, alongside the error.
func (e *Engine) Run(ctx context.Context, runID string, job types.ValidationJob) (*types.Run, error) {
	started := time.Now()

	timeout := e.cfg.ProcessTimeout
	if job.ProcessTimeout > 0 {
		timeout = job.ProcessTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec := NewExecutionContext(runID, job)
	logger := e.logger.With("run_id", runID, "job_id", job.ID, "dc", job.DcName)
	logger.Info("Starting validation run", "type", string(job.Type), "timeout", timeout)

	err := e.execute(runCtx, ec, logger)
	if err != nil && goerrors.Is(err, context.DeadlineExceeded) {
		err = errors.WrapTransient(
			fmt.Errorf("%w after %s", errors.ErrRunTimeout, timeout),
			"pipeline", "Run", "run execution")
	}

	run := &types.Run{
		ID:         runID,
		JobID:      job.ID,
		DcName:     job.DcName,
		Succeed:    err == nil,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Counters:   ec.Snapshot(),
	}
	if err != nil {
		run.Error = err.Error()
	}

	e.metrics.observeRun(time.Since(started), err == nil)
	logger.Info("Validation run finished",
		"succeed", run.Succeed,
		"evaluated", run.Counters.TotalEvaluated,
		"filtered", run.Counters.TotalFiltered,
		"failed", run.Counters.TotalFailed,
		"saved", run.Counters.TotalSaved,
		"duration", run.FinishedAt.Sub(run.StartedAt))

	return run, err
}

func (e *Engine) execute(ctx context.Context, ec *ExecutionContext, logger *slog.Logger) error {
	if err := e.warmEnrichers(ctx, ec); err != nil {
		return err
	}

	results := make(chan types.ValidationResult, e.cfg.BufferCapacity)

	g, gctx := errgroup.WithContext(ctx)

	// Workers share the group context so a sink failure cancels in-flight
	// transforms instead of letting them block on the results channel.
	pool := worker.NewPool[Payload](e.cfg.Parallelism, e.cfg.BufferCapacity,
		func(workCtx context.Context, p Payload) error {
			return e.process(workCtx, ec, p, results)
		})
	if err := pool.Start(gctx); err != nil {
		return errors.Wrap(err, "pipeline", "execute", "transform pool start")
	}

	g.Go(func() error {
		defer close(results)

		produceErr := e.producer.Produce(gctx, ec, func(p Payload) error {
			e.metrics.incProduced()
			return pool.Submit(gctx, p)
		})
		if drainErr := pool.Drain(e.cfg.DrainTimeout); drainErr != nil {
			logger.Error("Transform pool drain timed out", "error", drainErr)
			if produceErr == nil {
				produceErr = drainErr
			}
		}
		if produceErr != nil {
			return errors.Wrap(produceErr, "pipeline", "execute", "produce stage")
		}
		return nil
	})

	var persistErr error
	g.Go(func() error {
		persistErr = e.persistLoop(gctx, ec, results, logger)
		return persistErr
	})

	err := g.Wait()
	if persistErr != nil && goerrors.Is(persistErr, errors.ErrPrimarySinkFailed) {
		// The group keeps whichever error landed first; a sink failure
		// cancels the group context, so the producer's drain or submit
		// error can beat the persist error there. The sink failure is the
		// cause and decides the retry policy, so it wins.
		err = persistErr
	}
	if err == nil && ctx.Err() != nil {
		// A run that outlived its deadline must not report success even if
		// every stage wound down cleanly.
		err = ctx.Err()
	}
	return err
}

func (e *Engine) warmEnrichers(ctx context.Context, ec *ExecutionContext) error {
	for _, enricher := range e.enrichers {
		var warmErr error
		ec.WarmOnce(enricher.Name()).Do(func() {
			warmErr = enricher.Warm(ctx, ec)
		})
		if warmErr != nil {
			return errors.Wrap(warmErr, "pipeline", "warmEnrichers", enricher.Name()+" warm-up")
		}
	}
	return nil
}

// process runs the per-payload half of the pipeline: refresh enrichment,
// transform, hand the result to the batcher. Evaluation failures become
// failed results; only infrastructure errors propagate.
func (e *Engine) process(ctx context.Context, ec *ExecutionContext, p Payload, results chan<- types.ValidationResult) error {
	ec.IncReceived()
	start := time.Now()

	result, err := e.transform(ctx, ec, p)
	e.metrics.observeTransform(time.Since(start))
	if err != nil {
		return err
	}
	if result == nil {
		// Filtered by the rule's when-expression.
		return nil
	}

	select {
	case results <- *result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) transform(ctx context.Context, ec *ExecutionContext, p Payload) (*types.ValidationResult, error) {
	for _, enricher := range e.enrichers {
		if err := enricher.Refresh(ctx, ec, &p); err != nil {
			// Missing live data fails this payload, not the run.
			ec.IncFailed()
			ruleID := ""
			if p.Rule != nil {
				ruleID = p.Rule.Rule.ID
			}
			return &types.ValidationResult{
				EntityID: p.EntityID,
				RuleID:   ruleID,
				RunID:    ec.RunID,
				JobID:    ec.JobID,
				Error:    err.Error(),
			}, nil
		}
	}
	return e.transformer.Transform(ctx, ec, p)
}

func (e *Engine) persistLoop(ctx context.Context, ec *ExecutionContext, results <-chan types.ValidationResult, logger *slog.Logger) error {
	batch := make([]types.ValidationResult, 0, e.cfg.PersistenceBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.persistBatch(ctx, ec, batch, logger); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case result, ok := <-results:
			if !ok {
				return flush()
			}
			batch = append(batch, result)
			if len(batch) >= e.cfg.PersistenceBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) persistBatch(ctx context.Context, ec *ExecutionContext, batch []types.ValidationResult, logger *slog.Logger) error {
	for i, sink := range e.sinks {
		sink := sink
		persist := func() error {
			return sink.Persist(ctx, ec, batch)
		}

		if i == 0 {
			if err := retry.Do(ctx, e.cfg.PersistRetry, persist); err != nil {
				return errors.WrapFatal(
					fmt.Errorf("%w: %s: %w", errors.ErrPrimarySinkFailed, sink.Name(), err),
					"pipeline", "persistBatch", "primary sink write")
			}
			ec.AddSaved(int64(len(batch)))
			e.metrics.addPersisted(len(batch))
			continue
		}

		if err := sink.Persist(ctx, ec, batch); err != nil {
			logger.Error("Secondary sink write failed",
				"sink", sink.Name(), "batch_size", len(batch), "error", err)
		}
	}
	return nil
}
