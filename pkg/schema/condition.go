package schema

import "encoding/json"

// Condition operators, grouped by coercion family.
const (
	OpEquals             = "equals"    // raw compare
	OpNotEquals          = "not_equals"
	OpGreaterThan        = "greater_than" // numeric coercion; failure ⇒ false
	OpLessThan           = "less_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpContains           = "contains" // string/array semantics
	OpIsEmpty            = "is_empty"
	OpIsNotEmpty         = "is_not_empty"
)

// Value sources for condition leaves.
const (
	ValueSourceConst    = "const"
	ValueSourceVariable = "variable"
)

// Combinators for composite conditions.
const (
	CombinatorAnd = "and" // vacuous-true on empty rule list
	CombinatorOr  = "or"  // vacuous-false on empty rule list
)

// ConditionExpression is a boolean expression tree used for visibility gating
// and row filtering. A node is either a leaf (FieldPath/Op set) or a composite
// (Combinator/Rules set). Malformed trees evaluate to false, never an error.
type ConditionExpression struct {
	// Leaf fields.
	FieldPath   string `json:"fieldPath,omitempty"` // dotted/indexed path, e.g. "listVar.rows[0].col"
	Op          string `json:"op,omitempty"`
	ValueSource string `json:"valueSource,omitempty"` // const | variable (default: const)
	Value       any    `json:"value,omitempty"`

	// Composite fields.
	Combinator string                 `json:"combinator,omitempty"` // and | or
	Rules      []*ConditionExpression `json:"rules,omitempty"`
}

// IsComposite reports whether the node combines child rules.
func (c *ConditionExpression) IsComposite() bool {
	return c != nil && c.Combinator != ""
}

// ParseCondition decodes a ConditionExpression from raw JSON.
func ParseCondition(raw json.RawMessage) (*ConditionExpression, error) {
	if len(raw) == 0 {
		return nil, NewError(ErrCodeValidation, "empty condition expression")
	}
	var expr ConditionExpression
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "parse condition: %s", err.Error()).WithCause(err)
	}
	return &expr, nil
}
