// Package types holds the shared domain records exchanged between the
// expression engine, the code rules and the validation pipeline.
package types

import (
	"time"
)

// Evidence records one leaf condition's outcome: what was observed, what was
// expected, and a score in [0,1]. Code rules and JSON rules both produce
// evidence so results can be audited uniformly.
type Evidence struct {
	PropertyPath string  `json:"propertyPath"`
	Actual       any     `json:"actual"`
	Expected     any     `json:"expected"`
	Score        float64 `json:"score"`
	Passed       bool    `json:"passed"`
	ErrorCode    string  `json:"errorCode,omitempty"`
	Remarks      string  `json:"remarks,omitempty"`
}

// ValidationResult is produced by the transform stage for one (entity, rule)
// pair and never mutated afterwards. Assert is nil when the entity was
// filtered out by the rule's when-expression or when evaluation failed.
type ValidationResult struct {
	EntityID      string        `json:"entityId"`
	RuleID        string        `json:"ruleId"`
	RunID         string        `json:"runId"`
	JobID         string        `json:"jobId"`
	Assert        *bool         `json:"assert"`
	Score         float64       `json:"score"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
	Evidences     []Evidence    `json:"evidences,omitempty"`
}

// Counters aggregates run-level totals. Collected atomically during the run,
// snapshotted into the run record at completion.
type Counters struct {
	TotalDevices   int64 `json:"totalDevices"`
	TotalRules     int64 `json:"totalRules"`
	TotalPayloads  int64 `json:"totalPayloads"`
	TotalReceived  int64 `json:"totalReceived"`
	TotalEvaluated int64 `json:"totalEvaluated"`
	TotalFiltered  int64 `json:"totalFiltered"`
	TotalFailed    int64 `json:"totalFailed"`
	TotalSaved     int64 `json:"totalSaved"`
}

// Run records one execution of a validation job.
type Run struct {
	ID         string    `json:"id"`
	JobID      string    `json:"jobId"`
	DcName     string    `json:"dcName"`
	Succeed    bool      `json:"succeed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Counters   Counters  `json:"counters"`
}

// ValidationType selects which pipeline a job runs through.
type ValidationType string

const (
	// ValidationJSONRule evaluates entities against JSON-declared rules
	ValidationJSONRule ValidationType = "json-rule"
	// ValidationCodeRule evaluates entities through compiled evaluators
	ValidationCodeRule ValidationType = "code-rule"
	// ValidationDataCenter runs data-center level aggregate checks
	ValidationDataCenter ValidationType = "data-center"
)

// ValidationJob is the queue message asking a worker to validate one data
// center's device set against a rule set.
type ValidationJob struct {
	ID             string         `json:"id"`
	Type           ValidationType `json:"type"`
	DcName         string         `json:"dcName"`
	RuleSetID      string         `json:"ruleSetId"`
	ProcessTimeout time.Duration  `json:"processTimeout,omitempty"`
}
