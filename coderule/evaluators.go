package coderule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360/dcvalidate/device"
	"github.com/c360/dcvalidate/operator"
	"github.com/c360/dcvalidate/pipeline"
	"github.com/c360/dcvalidate/types"
)

// Error codes are stable identifiers: they key evaluator routing, rule
// registration and evidence attribution. Never renumber.
const (
	CodeCircularPath = "E1001"
	CodeKwMatch      = "E1002"
	CodeHierarchy    = "E1003"
	CodeStaleness    = "E1004"
	CodeCompleteness = "E1005"
)

// CircularPath flags leaf devices whose ancestor chain revisits itself. A
// power path feeding back into itself is always a data defect.
type CircularPath struct{}

// NewCircularPath creates the evaluator.
func NewCircularPath() *CircularPath { return &CircularPath{} }

// RuleName returns the registered rule name.
func (e *CircularPath) RuleName() string { return "circular power path" }

// ErrorCode returns the evaluator's stable code.
func (e *CircularPath) ErrorCode() string { return CodeCircularPath }

// EvaluateDevice walks the ancestor chain of leaf devices.
func (e *CircularPath) EvaluateDevice(_ context.Context, ec *pipeline.ExecutionContext, d *device.Device) ([]types.Evidence, error) {
	if !d.IsLeaf() {
		return nil, nil
	}

	_, loop := ec.Arena.AncestorChain(d.Name)
	if len(loop) > 0 {
		return []types.Evidence{{
			PropertyPath: "Parent",
			Actual:       "device in loop: " + strings.Join(loop, " -> "),
			Expected:     "acyclic path to a root device",
			Passed:       false,
			Score:        0,
		}}, nil
	}
	return []types.Evidence{{
		PropertyPath: "Parent",
		Actual:       "acyclic",
		Expected:     "acyclic path to a root device",
		Passed:       true,
		Score:        1,
	}}, nil
}

// KwMatch compares a parent's measured kW against the sum of its children's
// measured kW. Line losses allow a tolerance band; beyond it a meter or
// topology record is wrong.
type KwMatch struct {
	// TolerancePct is the allowed percentage difference, default 10.
	TolerancePct float64
}

// NewKwMatch creates the evaluator with the default tolerance.
func NewKwMatch() *KwMatch { return &KwMatch{TolerancePct: 10} }

// RuleName returns the registered rule name.
func (e *KwMatch) RuleName() string { return "parent/children kW match" }

// ErrorCode returns the evaluator's stable code.
func (e *KwMatch) ErrorCode() string { return CodeKwMatch }

// EvaluateDevice checks devices that have children and a kW reading.
func (e *KwMatch) EvaluateDevice(_ context.Context, ec *pipeline.ExecutionContext, d *device.Device) ([]types.Evidence, error) {
	own := d.Reading("kW")
	if d.IsLeaf() || own == nil {
		return nil, nil
	}

	var childSum float64
	counted := 0
	for _, child := range ec.Arena.ChildrenOf(d.Name) {
		if rs := child.Reading("kW"); rs != nil {
			childSum += rs.Avg
			counted++
		}
	}
	if counted == 0 {
		return nil, nil
	}

	tolerance := e.TolerancePct
	if tolerance <= 0 {
		tolerance = 10
	}
	pass, score, err := operator.Score(operator.DiffWithinPct, childSum, own.Avg,
		[]string{fmt.Sprintf("%g", tolerance)})
	if err != nil {
		return nil, err
	}

	ev := types.Evidence{
		PropertyPath: "ReadingStats.Where(DataPoint,Equals,'kW').Sum(Avg)",
		Actual:       childSum,
		Expected:     own.Avg,
		Passed:       pass,
		Score:        score,
	}
	if pct, ok := operator.DiffPct(childSum, own.Avg); ok {
		ev.Remarks = fmt.Sprintf("difference %.2f%%, tolerance %g%%", pct, tolerance)
	}
	return []types.Evidence{ev}, nil
}

// Hierarchy checks that every device with a parent sits exactly one level
// below it.
type Hierarchy struct{}

// NewHierarchy creates the evaluator.
func NewHierarchy() *Hierarchy { return &Hierarchy{} }

// RuleName returns the registered rule name.
func (e *Hierarchy) RuleName() string { return "hierarchy level consistency" }

// ErrorCode returns the evaluator's stable code.
func (e *Hierarchy) ErrorCode() string { return CodeHierarchy }

// EvaluateDevice checks devices that resolve a parent.
func (e *Hierarchy) EvaluateDevice(_ context.Context, ec *pipeline.ExecutionContext, d *device.Device) ([]types.Evidence, error) {
	if d.Parent == "" {
		return nil, nil
	}
	parent, ok := ec.Arena.Get(d.Parent)
	if !ok {
		return []types.Evidence{{
			PropertyPath: "Parent",
			Actual:       fmt.Sprintf("unresolved parent %q", d.Parent),
			Expected:     "resolvable parent device",
			Passed:       false,
			Score:        0,
		}}, nil
	}

	want := parent.Hierarchy + 1
	passed := d.Hierarchy == want
	score := 0.0
	if passed {
		score = 1.0
	}
	return []types.Evidence{{
		PropertyPath: "Hierarchy",
		Actual:       float64(d.Hierarchy),
		Expected:     float64(want),
		Passed:       passed,
		Score:        score,
	}}, nil
}

// Staleness flags monitorable devices that have not reported within the
// window.
type Staleness struct {
	// MaxAge is the reporting window, default 24h.
	MaxAge time.Duration
	// now is injectable for tests.
	now func() time.Time
}

// NewStaleness creates the evaluator with the default window.
func NewStaleness() *Staleness {
	return &Staleness{MaxAge: 24 * time.Hour, now: time.Now}
}

// RuleName returns the registered rule name.
func (e *Staleness) RuleName() string { return "telemetry staleness" }

// ErrorCode returns the evaluator's stable code.
func (e *Staleness) ErrorCode() string { return CodeStaleness }

// EvaluateDevice checks monitorable devices only.
func (e *Staleness) EvaluateDevice(_ context.Context, _ *pipeline.ExecutionContext, d *device.Device) ([]types.Evidence, error) {
	if !d.IsMonitorable {
		return nil, nil
	}

	maxAge := e.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}

	if d.LastSeen.IsZero() {
		return []types.Evidence{{
			PropertyPath: "LastSeen",
			Actual:       "never reported",
			Expected:     fmt.Sprintf("reported within %s", maxAge),
			Passed:       false,
			Score:        0,
		}}, nil
	}

	age := now().Sub(d.LastSeen)
	passed := age <= maxAge
	score := 0.0
	if passed {
		score = 1.0
	}
	return []types.Evidence{{
		PropertyPath: "LastSeen",
		Actual:       d.LastSeen,
		Expected:     fmt.Sprintf("reported within %s", maxAge),
		Passed:       passed,
		Score:        score,
		Remarks:      fmt.Sprintf("last report %s ago", age.Round(time.Second)),
	}}, nil
}

// Completeness checks that the attributes the other rules depend on are
// populated. The score is proportional to how many checks pass, so a device
// missing one rating scores higher than an empty shell record.
type Completeness struct{}

// NewCompleteness creates the evaluator.
func NewCompleteness() *Completeness { return &Completeness{} }

// RuleName returns the registered rule name.
func (e *Completeness) RuleName() string { return "attribute completeness" }

// ErrorCode returns the evaluator's stable code.
func (e *Completeness) ErrorCode() string { return CodeCompleteness }

// EvaluateDevice checks every device.
func (e *Completeness) EvaluateDevice(_ context.Context, _ *pipeline.ExecutionContext, d *device.Device) ([]types.Evidence, error) {
	checks := []struct {
		path   string
		actual any
		ok     bool
	}{
		{"DeviceType", d.DeviceType, d.DeviceType != ""},
		{"DcName", d.DcName, d.DcName != ""},
		{"KwRating", d.KwRating, d.KwRating > 0},
		{"AmpRating", d.AmpRating, d.AmpRating > 0},
		{"VoltageRating", d.VoltageRating, d.VoltageRating > 0},
		{"OnboardingStatus", d.OnboardingStatus, d.OnboardingStatus != ""},
	}

	out := make([]types.Evidence, 0, len(checks))
	for _, c := range checks {
		score := 0.0
		if c.ok {
			score = 1.0
		}
		out = append(out, types.Evidence{
			PropertyPath: c.path,
			Actual:       c.actual,
			Expected:     "populated",
			Passed:       c.ok,
			Score:        score,
		})
	}
	return out, nil
}

// DefaultEvaluators returns the full evaluator family in registration order.
func DefaultEvaluators() []Evaluator {
	return []Evaluator{
		NewCircularPath(),
		NewKwMatch(),
		NewHierarchy(),
		NewStaleness(),
		NewCompleteness(),
	}
}
