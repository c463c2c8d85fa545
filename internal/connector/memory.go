package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// MemoryConnector is an in-process DataSourceConnector backed by seeded
// tables. Used by tests and by CLI sessions loading a workflow bundle.
type MemoryConnector struct {
	mu     sync.RWMutex
	tables map[string][]map[string]any
}

func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{
		tables: make(map[string][]map[string]any),
	}
}

// SeedTable replaces the named table's rows. Rows without an "id" get one.
func (c *MemoryConnector) SeedTable(tableID string, rows []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seeded := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		cp := cloneRow(row)
		if _, ok := cp["id"]; !ok {
			cp["id"] = uuid.NewString()
		}
		seeded = append(seeded, cp)
	}
	c.tables[tableID] = seeded
}

func (c *MemoryConnector) HealthCheck(context.Context) error { return nil }

func (c *MemoryConnector) ListTables(context.Context) ([]TableMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	metas := make([]TableMetadata, 0, len(c.tables))
	for id, rows := range c.tables {
		metas = append(metas, TableMetadata{ID: id, Name: id, Columns: columnsOf(rows)})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas, nil
}

func (c *MemoryConnector) GetTableMetadata(_ context.Context, tableID string) (*TableMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows, ok := c.tables[tableID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "table %q not found", tableID)
	}
	return &TableMetadata{ID: tableID, Name: tableID, Columns: columnsOf(rows)}, nil
}

func (c *MemoryConnector) ReadRows(_ context.Context, tableID string, opts ReadOptions) ([]map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows, ok := c.tables[tableID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "table %q not found", tableID)
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(rows) {
		start = len(rows)
	}
	end := len(rows)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	out := make([]map[string]any, 0, end-start)
	for _, row := range rows[start:end] {
		out = append(out, cloneRow(row))
	}
	return out, nil
}

func (c *MemoryConnector) WriteRows(_ context.Context, tableID string, rows []map[string]any, opts WriteOptions) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table := c.tables[tableID]
	keyColumn := opts.KeyColumn
	if keyColumn == "" {
		keyColumn = "id"
	}

	written := 0
	for _, row := range rows {
		cp := cloneRow(row)
		if opts.Upsert {
			if key, ok := cp[keyColumn]; ok && key != nil {
				if idx := findRow(table, keyColumn, key); idx >= 0 {
					table[idx] = cp
					written++
					continue
				}
			}
		}
		if _, ok := cp["id"]; !ok {
			cp["id"] = uuid.NewString()
		}
		table = append(table, cp)
		written++
	}
	c.tables[tableID] = table
	return written, nil
}

func findRow(rows []map[string]any, column string, key any) int {
	want := fmt.Sprintf("%v", key)
	for i, row := range rows {
		if v, ok := row[column]; ok && fmt.Sprintf("%v", v) == want {
			return i
		}
	}
	return -1
}

func columnsOf(rows []map[string]any) []ColumnInfo {
	seen := make(map[string]bool)
	var cols []ColumnInfo
	for _, row := range rows {
		for name := range row {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, ColumnInfo{Name: name})
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols
}

func cloneRow(row map[string]any) map[string]any {
	cp := make(map[string]any, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp
}
