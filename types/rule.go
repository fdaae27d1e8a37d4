package types

// RuleType distinguishes JSON-declared rules from compiled evaluators.
type RuleType string

const (
	// RuleTypeJSON marks a rule whose conditions are JSON condition trees
	RuleTypeJSON RuleType = "json"
	// RuleTypeCode marks a rule backed by a compiled evaluator
	RuleTypeCode RuleType = "code"
)

// ValidationRule is a stored rule document. For JSON rules, WhenExpression
// filters which entities the rule applies to and IfExpression is the
// assertion; both are embedded JSON condition trees. For code rules,
// ErrorCode identifies the registered evaluator instead.
type ValidationRule struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           RuleType `json:"type"`
	Severity       int      `json:"severity,omitempty"`
	Weight         float64  `json:"weight,omitempty"`
	Enabled        bool     `json:"enabled"`
	WhenExpression string   `json:"whenExpression,omitempty"`
	IfExpression   string   `json:"ifExpression,omitempty"`
	ErrorCode      string   `json:"errorCode,omitempty"`
}

// RuleSet groups rules evaluated together by one job.
type RuleSet struct {
	ID    string           `json:"id"`
	Type  RuleType         `json:"type"`
	Rules []ValidationRule `json:"rules"`
}
