// Package connector abstracts the tabular data sources that query and write
// blocks operate on.
package connector

import "context"

// ColumnInfo describes one column of a source table.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// TableMetadata describes one addressable table.
type TableMetadata struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns,omitempty"`
}

// ReadOptions narrows a row read. Zero values mean "no bound".
type ReadOptions struct {
	Limit  int
	Offset int
}

// WriteOptions controls row writes. With Upsert set, rows matching KeyColumn
// replace existing rows; KeyColumn defaults to "id".
type WriteOptions struct {
	Upsert    bool
	KeyColumn string
}

// DataSourceConnector is the engine's view of an external tabular data source.
// Implementations must be safe for concurrent use across runs.
type DataSourceConnector interface {
	HealthCheck(ctx context.Context) error
	ListTables(ctx context.Context) ([]TableMetadata, error)
	GetTableMetadata(ctx context.Context, tableID string) (*TableMetadata, error)
	ReadRows(ctx context.Context, tableID string, opts ReadOptions) ([]map[string]any, error)
	WriteRows(ctx context.Context, tableID string, rows []map[string]any, opts WriteOptions) (int, error)
}
