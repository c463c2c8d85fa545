package engine

import (
	"context"
	"encoding/json"

	"github.com/vaultlogic/pulse/internal/conditions"
	"github.com/vaultlogic/pulse/internal/connector"
	"github.com/vaultlogic/pulse/pkg/schema"
)

// queryConfig reads rows from a connector table into a list variable.
// Filters are applied engine-side after the read; limit and offset are pushed
// down to the connector when no filters are present.
type queryConfig struct {
	TableID   string                      `json:"tableId"`
	OutputVar string                      `json:"outputVar"`
	Filters   *schema.ConditionExpression `json:"filters,omitempty"`
	Limit     int                         `json:"limit,omitempty"`
	Offset    int                         `json:"offset,omitempty"`
}

type queryHandler struct {
	runner *Runner
}

func (h *queryHandler) Type() schema.BlockType { return schema.BlockTypeQuery }

func (h *queryHandler) Execute(ctx context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	var cfg queryConfig
	if err := json.Unmarshal(block.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed query config").WithCause(err)
	}

	opts := connector.ReadOptions{}
	if cfg.Filters == nil {
		opts.Limit = cfg.Limit
		opts.Offset = cfg.Offset
	}

	rows, err := h.runner.connector.ReadRows(ctx, cfg.TableID, opts)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector,
			"read table %q failed: %s", cfg.TableID, err.Error()).WithCause(err)
	}

	if cfg.Filters != nil {
		filtered := rows[:0:0]
		for _, row := range rows {
			if h.runner.eval.Evaluate(cfg.Filters, conditions.MapScope(row)) {
				filtered = append(filtered, row)
			}
		}
		rows = applyWindow(filtered, cfg.Offset, cfg.Limit)
	}

	list := schema.NewListVariable(rows, schema.ListMetadata{Source: "table", SourceID: cfg.TableID})
	return &BlockOutput{Vars: map[string]any{cfg.OutputVar: list}}, nil
}

func applyWindow(rows []map[string]any, offset, limit int) []map[string]any {
	if offset > len(rows) {
		offset = len(rows)
	}
	if offset > 0 {
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// writeConfig upserts rows from a list variable into a connector table.
// A missing source list degrades to an empty write, mirroring variable reads.
type writeConfig struct {
	TableID       string `json:"tableId"`
	SourceListVar string `json:"sourceListVar"`
	KeyColumn     string `json:"keyColumn,omitempty"`
	Upsert        *bool  `json:"upsert,omitempty"`
}

type writeHandler struct {
	runner *Runner
}

func (h *writeHandler) Type() schema.BlockType { return schema.BlockTypeWrite }

func (h *writeHandler) Execute(ctx context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	var cfg writeConfig
	if err := json.Unmarshal(block.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed write config").WithCause(err)
	}

	list := schema.NormalizeList(rc.vars.Get(cfg.SourceListVar))
	if list.Count == 0 {
		return &BlockOutput{}, nil
	}

	upsert := true
	if cfg.Upsert != nil {
		upsert = *cfg.Upsert
	}

	written, err := h.runner.connector.WriteRows(ctx, cfg.TableID, list.Rows, connector.WriteOptions{
		Upsert:    upsert,
		KeyColumn: cfg.KeyColumn,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector,
			"write table %q failed: %s", cfg.TableID, err.Error()).WithCause(err)
	}

	return &BlockOutput{Vars: map[string]any{cfg.SourceListVar + "_written": written}}, nil
}
