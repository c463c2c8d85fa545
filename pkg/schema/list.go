package schema

// ListMetadata records where a ListVariable came from.
type ListMetadata struct {
	Source   string `json:"source"`             // e.g. "query", "list_tools", "inline"
	SourceID string `json:"sourceId,omitempty"` // table id or source block id
}

// ListVariable is an in-run tabular value: an ordered sequence of records plus
// derived count and column names.
type ListVariable struct {
	Metadata ListMetadata     `json:"metadata"`
	Rows     []map[string]any `json:"rows"`
	Count    int              `json:"count"`
	Columns  []string         `json:"columns,omitempty"`
}

// NewListVariable builds a ListVariable from rows, deriving Count and Columns.
// Column order follows first appearance across rows.
func NewListVariable(rows []map[string]any, meta ListMetadata) *ListVariable {
	if rows == nil {
		rows = []map[string]any{}
	}
	seen := make(map[string]struct{})
	var columns []string
	for _, row := range rows {
		for col := range row {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				columns = append(columns, col)
			}
		}
	}
	return &ListVariable{
		Metadata: meta,
		Rows:     rows,
		Count:    len(rows),
		Columns:  columns,
	}
}

// NormalizeList coerces a variable value into a ListVariable. Accepted shapes:
// *ListVariable, ListVariable, a JSON-decoded wrapper map with a "rows" key,
// a plain ordered sequence of records ([]map[string]any or []any of objects).
// Anything else, including a missing value, normalizes to an empty list.
func NormalizeList(v any) *ListVariable {
	switch val := v.(type) {
	case *ListVariable:
		if val != nil {
			return val
		}
	case ListVariable:
		return &val
	case map[string]any:
		if rawRows, ok := val["rows"]; ok {
			lv := NewListVariable(coerceRows(rawRows), metaFromMap(val))
			return lv
		}
	case []map[string]any:
		return NewListVariable(val, ListMetadata{Source: "inline"})
	case []any:
		return NewListVariable(coerceRows(val), ListMetadata{Source: "inline"})
	}
	return NewListVariable(nil, ListMetadata{})
}

// coerceRows converts a decoded rows value into []map[string]any, skipping
// non-object entries.
func coerceRows(v any) []map[string]any {
	switch rows := v.(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func metaFromMap(wrapper map[string]any) ListMetadata {
	meta := ListMetadata{}
	raw, ok := wrapper["metadata"].(map[string]any)
	if !ok {
		return meta
	}
	if s, ok := raw["source"].(string); ok {
		meta.Source = s
	}
	if sid, ok := raw["sourceId"].(string); ok {
		meta.SourceID = sid
	}
	return meta
}
