// Package conditions evaluates ConditionExpression trees against a variable
// scope. Evaluation is pure and total: malformed expressions, unknown
// operators, and missing variables all degrade to false with a non-fatal
// diagnostic, never a panic or an error return.
package conditions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// Scope resolves a top-level variable name to its value. Unknown names return
// nil. Satisfied by *variables.Store and by per-row map scopes.
type Scope interface {
	Get(key string) any
}

// MapScope adapts a plain map, such as a single list row, into a Scope.
type MapScope map[string]any

// Get returns the value at key, or nil.
func (m MapScope) Get(key string) any { return m[key] }

// Evaluator evaluates condition trees. The zero value is not usable; construct
// with New.
type Evaluator struct {
	logger *slog.Logger
}

// New creates an Evaluator. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate resolves a condition tree to a boolean. Composite "and" requires
// every child true (vacuous-true on an empty rule list); "or" requires at
// least one (vacuous-false on empty). Malformed nodes yield false.
func (e *Evaluator) Evaluate(expr *schema.ConditionExpression, scope Scope) bool {
	if expr == nil {
		e.logger.Debug("condition is nil; evaluating to false")
		return false
	}
	if expr.IsComposite() {
		return e.evaluateComposite(expr, scope)
	}
	return e.evaluateLeaf(expr, scope)
}

func (e *Evaluator) evaluateComposite(expr *schema.ConditionExpression, scope Scope) bool {
	switch expr.Combinator {
	case schema.CombinatorAnd:
		for _, rule := range expr.Rules {
			if !e.Evaluate(rule, scope) {
				return false
			}
		}
		return true
	case schema.CombinatorOr:
		for _, rule := range expr.Rules {
			if e.Evaluate(rule, scope) {
				return true
			}
		}
		return false
	default:
		e.logger.Warn("unknown condition combinator", slog.String("combinator", expr.Combinator))
		return false
	}
}

func (e *Evaluator) evaluateLeaf(expr *schema.ConditionExpression, scope Scope) bool {
	if expr.FieldPath == "" || expr.Op == "" {
		e.logger.Warn("malformed condition leaf",
			slog.String("fieldPath", expr.FieldPath), slog.String("op", expr.Op))
		return false
	}

	left := ResolvePath(scope, expr.FieldPath)

	right := expr.Value
	if expr.ValueSource == schema.ValueSourceVariable {
		ref, ok := expr.Value.(string)
		if !ok {
			e.logger.Warn("variable-sourced condition value is not a path",
				slog.String("fieldPath", expr.FieldPath))
			return false
		}
		right = ResolvePath(scope, ref)
	}

	switch expr.Op {
	case schema.OpEquals:
		return looseEqual(left, right)
	case schema.OpNotEquals:
		return !looseEqual(left, right)
	case schema.OpGreaterThan, schema.OpLessThan,
		schema.OpGreaterThanOrEqual, schema.OpLessThanOrEqual:
		return compareNumeric(expr.Op, left, right)
	case schema.OpContains:
		return contains(left, right)
	case schema.OpIsEmpty:
		return isEmpty(left)
	case schema.OpIsNotEmpty:
		return !isEmpty(left)
	default:
		e.logger.Warn("unknown condition operator", slog.String("op", expr.Op))
		return false
	}
}

// ResolvePath navigates a dotted/indexed field path (e.g. "listVar.rows[0].col")
// starting from a top-level scope lookup. Any miss along the way resolves to
// nil; a missing referenced variable never raises.
func ResolvePath(scope Scope, path string) any {
	if scope == nil || path == "" {
		return nil
	}
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil
	}

	current := scope.Get(segments[0].key)
	if segments[0].indexed {
		current = indexInto(current, segments[0].index)
	}

	for _, seg := range segments[1:] {
		current = fieldOf(current, seg.key)
		if seg.indexed {
			current = indexInto(current, seg.index)
		}
		if current == nil {
			return nil
		}
	}
	return current
}

type pathSegment struct {
	key     string
	indexed bool
	index   int
}

// splitPath breaks "a.b[2].c" into segments {a} {b,idx 2} {c}.
func splitPath(path string) []pathSegment {
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		seg := pathSegment{key: part}
		if open := strings.IndexByte(part, '['); open >= 0 && strings.HasSuffix(part, "]") {
			idxStr := part[open+1 : len(part)-1]
			if idx, err := strconv.Atoi(idxStr); err == nil {
				seg.key = part[:open]
				seg.indexed = true
				seg.index = idx
			}
		}
		segments = append(segments, seg)
	}
	return segments
}

// fieldOf reaches one level into maps, ListVariables, and row slices.
func fieldOf(v any, key string) any {
	switch val := v.(type) {
	case map[string]any:
		return val[key]
	case *schema.ListVariable:
		if val == nil {
			return nil
		}
		return listField(val, key)
	case schema.ListVariable:
		return listField(&val, key)
	}
	return nil
}

func listField(lv *schema.ListVariable, key string) any {
	switch key {
	case "rows":
		return lv.Rows
	case "count":
		return lv.Count
	case "columns":
		return lv.Columns
	case "metadata":
		return map[string]any{"source": lv.Metadata.Source, "sourceId": lv.Metadata.SourceID}
	}
	return nil
}

func indexInto(v any, idx int) any {
	if idx < 0 {
		return nil
	}
	switch val := v.(type) {
	case []any:
		if idx < len(val) {
			return val[idx]
		}
	case []map[string]any:
		if idx < len(val) {
			return val[idx]
		}
	case []string:
		if idx < len(val) {
			return val[idx]
		}
	}
	return nil
}

// looseEqual compares operands with numeric normalization so 30 == 30.0 and
// "30" == 30 across JSON decode boundaries; everything else is stringly or
// deeply compared raw.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareNumeric applies an ordering operator under numeric coercion.
// Coercion failure of either operand yields false.
func compareNumeric(op string, a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case schema.OpGreaterThan:
		return af > bf
	case schema.OpLessThan:
		return af < bf
	case schema.OpGreaterThanOrEqual:
		return af >= bf
	case schema.OpLessThanOrEqual:
		return af <= bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// contains implements string and array membership semantics.
func contains(haystack, needle any) bool {
	switch hs := haystack.(type) {
	case string:
		return strings.Contains(hs, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range hs {
			if looseEqual(item, needle) {
				return true
			}
		}
	case []map[string]any:
		for _, item := range hs {
			if looseEqual(item, needle) {
				return true
			}
		}
	case []string:
		target := fmt.Sprintf("%v", needle)
		for _, item := range hs {
			if item == target {
				return true
			}
		}
	}
	return false
}

// isEmpty reports emptiness for nil, blank strings, zero-length collections,
// and empty ListVariables.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []map[string]any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case *schema.ListVariable:
		return val == nil || val.Count == 0
	case schema.ListVariable:
		return val.Count == 0
	}
	return false
}
