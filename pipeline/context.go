// Package pipeline runs validation jobs through a bounded parallel
// produce → enrich → transform → batch → persist dataflow. Each stage owns
// its own concurrency; channels between stages are bounded so a slow sink
// backpressures all the way to the producer.
package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/types"
)

// ScoreEntry is one evaluated (entity, rule) outcome kept on the run for
// summary reporting.
type ScoreEntry struct {
	EntityID string
	RuleID   string
	Score    float64
}

// ExecutionContext is the per-run shared state: entity lookups populated by
// enrichers, atomic counters mutated by every stage, and the score list.
// It is created for one job and discarded after the run record is persisted.
type ExecutionContext struct {
	RunID     string
	JobID     string
	DcName    string
	RuleSetID string

	// Arena holds the run's device topology once the topology enricher has
	// warmed it.
	Arena *device.Arena

	totalDevices   atomic.Int64
	totalRules     atomic.Int64
	totalPayloads  atomic.Int64
	totalReceived  atomic.Int64
	totalEvaluated atomic.Int64
	totalFiltered  atomic.Int64
	totalFailed    atomic.Int64
	totalSaved     atomic.Int64

	scoreMu sync.Mutex
	scores  []ScoreEntry

	warmMu sync.Mutex
	warm   map[string]*sync.Once
}

// NewExecutionContext creates the context for one job run.
func NewExecutionContext(runID string, job types.ValidationJob) *ExecutionContext {
	return &ExecutionContext{
		RunID:     runID,
		JobID:     job.ID,
		DcName:    job.DcName,
		RuleSetID: job.RuleSetID,
		Arena:     device.NewArena(),
		warm:      make(map[string]*sync.Once),
	}
}

// WarmOnce returns the once guarding the named enricher's static warm-up, so
// concurrent workers share one populated cache instead of re-querying.
func (ec *ExecutionContext) WarmOnce(name string) *sync.Once {
	ec.warmMu.Lock()
	defer ec.warmMu.Unlock()
	once, ok := ec.warm[name]
	if !ok {
		once = &sync.Once{}
		ec.warm[name] = once
	}
	return once
}

// AddDevices records the produced device count.
func (ec *ExecutionContext) AddDevices(n int64) { ec.totalDevices.Add(n) }

// AddRules records the produced rule count.
func (ec *ExecutionContext) AddRules(n int64) { ec.totalRules.Add(n) }

// AddPayloads records the produced payload count.
func (ec *ExecutionContext) AddPayloads(n int64) { ec.totalPayloads.Add(n) }

// IncReceived counts a payload entering the transform stage.
func (ec *ExecutionContext) IncReceived() { ec.totalReceived.Add(1) }

// IncEvaluated counts a payload that produced an asserted result.
func (ec *ExecutionContext) IncEvaluated() { ec.totalEvaluated.Add(1) }

// IncFiltered counts a payload rejected by a rule's when-filter.
func (ec *ExecutionContext) IncFiltered() { ec.totalFiltered.Add(1) }

// IncFailed counts a payload whose evaluation errored.
func (ec *ExecutionContext) IncFailed() { ec.totalFailed.Add(1) }

// AddSaved counts results accepted by the primary sink.
func (ec *ExecutionContext) AddSaved(n int64) { ec.totalSaved.Add(n) }

// RecordScore appends one evaluated outcome.
func (ec *ExecutionContext) RecordScore(entityID, ruleID string, score float64) {
	ec.scoreMu.Lock()
	defer ec.scoreMu.Unlock()
	ec.scores = append(ec.scores, ScoreEntry{EntityID: entityID, RuleID: ruleID, Score: score})
}

// Scores returns a copy of the recorded outcomes.
func (ec *ExecutionContext) Scores() []ScoreEntry {
	ec.scoreMu.Lock()
	defer ec.scoreMu.Unlock()
	out := make([]ScoreEntry, len(ec.scores))
	copy(out, ec.scores)
	return out
}

// Snapshot captures the counters for the run record.
func (ec *ExecutionContext) Snapshot() types.Counters {
	return types.Counters{
		TotalDevices:   ec.totalDevices.Load(),
		TotalRules:     ec.totalRules.Load(),
		TotalPayloads:  ec.totalPayloads.Load(),
		TotalReceived:  ec.totalReceived.Load(),
		TotalEvaluated: ec.totalEvaluated.Load(),
		TotalFiltered:  ec.totalFiltered.Load(),
		TotalFailed:    ec.totalFailed.Load(),
		TotalSaved:     ec.totalSaved.Load(),
	}
}
