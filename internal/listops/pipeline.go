// Package listops implements the declarative list transformation pipeline:
// a deterministic multi-stage transform over list-shaped variables. The five
// stages always apply in the fixed order filter, sort, dedupe, offset/limit,
// select, regardless of the order keys appear in configuration, followed by
// derived scalar outputs. The source list is never mutated and re-running an
// identical config against unchanged input is idempotent.
package listops

import (
	"encoding/json"
	"sort"

	"github.com/vaultlogic/pulse/internal/conditions"
	"github.com/vaultlogic/pulse/internal/variables"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// Config is the list_tools block configuration.
type Config struct {
	SourceListVar string                      `json:"sourceListVar"`
	OutputListVar string                      `json:"outputListVar"`
	Filters       *schema.ConditionExpression `json:"filters,omitempty"`
	Sort          []SortKey                   `json:"sort,omitempty"`
	Dedupe        *DedupeSpec                 `json:"dedupe,omitempty"`
	Offset        *int                        `json:"offset,omitempty"`
	Limit         *int                        `json:"limit,omitempty"`
	Select        []string                    `json:"select,omitempty"`
	Outputs       *OutputsSpec                `json:"outputs,omitempty"`
}

// SortKey is one multi-key sort component.
type SortKey struct {
	FieldPath string `json:"fieldPath"`
	Direction string `json:"direction,omitempty"` // asc (default) | desc
}

// DedupeSpec keeps the first row per distinct value of FieldPath.
type DedupeSpec struct {
	FieldPath string `json:"fieldPath"`
}

// OutputsSpec names derived scalars written directly into the variable store.
type OutputsSpec struct {
	CountVar string `json:"countVar,omitempty"` // resulting row count
	FirstVar string `json:"firstVar,omitempty"` // first resulting row, or nil if empty
}

// ParseConfig decodes a pipeline Config from raw block configuration.
func ParseConfig(raw json.RawMessage) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse list_tools config: %s", err.Error()).WithCause(err)
	}
	if cfg.SourceListVar == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "list_tools config requires sourceListVar")
	}
	return &cfg, nil
}

// Pipeline applies list transformation configs against a variable store.
type Pipeline struct {
	eval *conditions.Evaluator
}

// New creates a Pipeline that reuses the given condition evaluator for
// per-row filter rules.
func New(eval *conditions.Evaluator) *Pipeline {
	return &Pipeline{eval: eval}
}

// Apply runs the pipeline. A missing or non-list source degrades to an empty
// ListVariable (count 0), never an error. The result is written to
// cfg.OutputListVar (when set) along with any configured derived outputs, and
// also returned.
func (p *Pipeline) Apply(cfg *Config, store *variables.Store) *schema.ListVariable {
	source := schema.NormalizeList(store.Get(cfg.SourceListVar))

	// Work on a fresh slice; rows themselves are only copied by select.
	rows := make([]map[string]any, len(source.Rows))
	copy(rows, source.Rows)

	rows = p.filter(cfg, rows)
	rows = sortRows(cfg.Sort, rows)
	rows = dedupe(cfg.Dedupe, rows)
	rows = window(cfg.Offset, cfg.Limit, rows)
	rows = project(cfg.Select, rows)

	result := schema.NewListVariable(rows, schema.ListMetadata{
		Source:   "list_tools",
		SourceID: cfg.SourceListVar,
	})

	if cfg.OutputListVar != "" {
		store.Set(cfg.OutputListVar, result)
	}
	if cfg.Outputs != nil {
		if cfg.Outputs.CountVar != "" {
			store.Set(cfg.Outputs.CountVar, result.Count)
		}
		if cfg.Outputs.FirstVar != "" {
			if result.Count > 0 {
				store.Set(cfg.Outputs.FirstVar, result.Rows[0])
			} else {
				store.Set(cfg.Outputs.FirstVar, nil)
			}
		}
	}
	return result
}

// filter keeps rows matching the configured condition, using each row as the
// variable scope. A filter with rules but no combinator defaults to "and".
func (p *Pipeline) filter(cfg *Config, rows []map[string]any) []map[string]any {
	expr := cfg.Filters
	if expr == nil {
		return rows
	}
	if expr.Combinator == "" && len(expr.Rules) > 0 {
		normalized := *expr
		normalized.Combinator = schema.CombinatorAnd
		expr = &normalized
	}

	kept := rows[:0:0]
	for _, row := range rows {
		if p.eval.Evaluate(expr, conditions.MapScope(row)) {
			kept = append(kept, row)
		}
	}
	return kept
}

// sortRows applies a stable multi-key sort; ties preserve relative input order.
func sortRows(keys []SortKey, rows []map[string]any) []map[string]any {
	if len(keys) == 0 {
		return rows
	}
	sorted := make([]map[string]any, len(rows))
	copy(sorted, rows)

	sort.SliceStable(sorted, func(i, j int) bool {
		for _, key := range keys {
			a := conditions.ResolvePath(conditions.MapScope(sorted[i]), key.FieldPath)
			b := conditions.ResolvePath(conditions.MapScope(sorted[j]), key.FieldPath)
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if key.Direction == "desc" {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sorted
}

// dedupe keeps the first row per distinct value of the field, in first-seen order.
func dedupe(spec *DedupeSpec, rows []map[string]any) []map[string]any {
	if spec == nil || spec.FieldPath == "" {
		return rows
	}
	seen := make(map[string]struct{}, len(rows))
	kept := rows[:0:0]
	for _, row := range rows {
		key := stringify(conditions.ResolvePath(conditions.MapScope(row), spec.FieldPath))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	return kept
}

// window applies offset then limit to the post-filter/sort/dedupe sequence.
func window(offset, limit *int, rows []map[string]any) []map[string]any {
	if offset != nil && *offset > 0 {
		if *offset >= len(rows) {
			return rows[:0:0]
		}
		rows = rows[*offset:]
	}
	if limit != nil && *limit >= 0 && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}

// project drops all columns not named in the select list. "id" is always
// preserved even when omitted. Rows are copied so the source list stays intact.
func project(selected []string, rows []map[string]any) []map[string]any {
	if len(selected) == 0 {
		return rows
	}
	keep := make(map[string]struct{}, len(selected)+1)
	keep["id"] = struct{}{}
	for _, col := range selected {
		keep[col] = struct{}{}
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		projected := make(map[string]any, len(keep))
		for col := range keep {
			if v, ok := row[col]; ok {
				projected[col] = v
			}
		}
		out[i] = projected
	}
	return out
}

// compareValues orders numbers numerically and everything else as strings.
// nil sorts before any value.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := stringify(a), stringify(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
