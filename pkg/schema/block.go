package schema

import (
	"encoding/json"
	"sort"
	"time"
)

// BlockType enumerates the kinds of configured blocks.
type BlockType string

const (
	BlockTypePrefill      BlockType = "prefill"
	BlockTypeValidate     BlockType = "validate"
	BlockTypeBranch       BlockType = "branch" // deprecated: routing is the orchestrator's job
	BlockTypeQuery        BlockType = "query"  // reads rows from a data source into a ListVariable
	BlockTypeWrite        BlockType = "write"  // upserts rows into a data source
	BlockTypeExternalSend BlockType = "external_send"
	BlockTypeListTools    BlockType = "list_tools"
	BlockTypeJS           BlockType = "js" // transform block: sandboxed script with one output key
)

// legacy type aliases still present in stored configurations.
var blockTypeAliases = map[BlockType]BlockType{
	"read_table": BlockTypeQuery,
	"send_table": BlockTypeWrite,
}

// Normalize resolves legacy block type aliases to their canonical form.
func (t BlockType) Normalize() BlockType {
	if canonical, ok := blockTypeAliases[t]; ok {
		return canonical
	}
	return t
}

// Block is a configured unit of work triggered at a named run phase.
type Block struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	SectionID  string          `json:"section_id,omitempty"`
	Type       BlockType       `json:"type"`
	Phase      Phase           `json:"phase"`
	Config     json.RawMessage `json:"config,omitempty"` // type-specific configuration
	Enabled    bool            `json:"enabled"`
	Order      int             `json:"order"`
}

// SortBlocks orders blocks by (order asc, id asc), the total execution order
// within a phase. The order is configuration-derived, never re-derived from
// insertion time at run time.
func SortBlocks(blocks []*Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Order != blocks[j].Order {
			return blocks[i].Order < blocks[j].Order
		}
		return blocks[i].ID < blocks[j].ID
	})
}

// Supported script languages.
const (
	ScriptLanguageExpr = "expr"
	ScriptLanguageJQ   = "jq"
	ScriptLanguageCEL  = "cel"
)

// ScriptLanguages lists the selectable sandbox languages.
var ScriptLanguages = []string{ScriptLanguageExpr, ScriptLanguageJQ, ScriptLanguageCEL}

// Script timeout bounds in milliseconds. Configured values are clamped.
const (
	MinScriptTimeoutMs     = 100
	MaxScriptTimeoutMs     = 3000
	DefaultScriptTimeoutMs = 1000
)

// ScriptSpec is the script shape shared by transform blocks and lifecycle hooks:
// user-authored code in a selectable language, named input bindings, and a
// bounded wall-clock deadline.
type ScriptSpec struct {
	Name      string   `json:"name,omitempty"`
	Language  string   `json:"language"` // expr | jq | cel
	Code      string   `json:"code"`
	InputKeys []string `json:"inputKeys,omitempty"`
	OutputKey string   `json:"outputKey,omitempty"`
	TimeoutMs int      `json:"timeoutMs,omitempty"`
}

// Timeout returns the effective wall-clock deadline, clamped to the allowed range.
func (s *ScriptSpec) Timeout() time.Duration {
	ms := s.TimeoutMs
	switch {
	case ms <= 0:
		ms = DefaultScriptTimeoutMs
	case ms < MinScriptTimeoutMs:
		ms = MinScriptTimeoutMs
	case ms > MaxScriptTimeoutMs:
		ms = MaxScriptTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// LifecycleHook is a script bound to a page/document lifecycle phase.
// When MutationMode is true the hook's emitted object shallow-merges into the
// phase data; when false the emission is recorded only in the execution log.
type LifecycleHook struct {
	ID           string   `json:"id"`
	WorkflowID   string   `json:"workflow_id"`
	Name         string   `json:"name,omitempty"`
	Phase        Phase    `json:"phase"`
	Language     string   `json:"language"`
	Code         string   `json:"code"`
	InputKeys    []string `json:"inputKeys,omitempty"`
	OutputKeys   []string `json:"outputKeys,omitempty"`
	TimeoutMs    int      `json:"timeoutMs,omitempty"`
	MutationMode bool     `json:"mutationMode"`
	Enabled      bool     `json:"enabled"`
	Order        int      `json:"order"`
}

// Script returns the hook's script shape for sandbox execution.
func (h *LifecycleHook) Script() *ScriptSpec {
	return &ScriptSpec{
		Name:      h.Name,
		Language:  h.Language,
		Code:      h.Code,
		InputKeys: h.InputKeys,
		TimeoutMs: h.TimeoutMs,
	}
}

// SortHooks orders hooks by (order asc, id asc), mirroring block ordering.
func SortHooks(hooks []*LifecycleHook) {
	sort.SliceStable(hooks, func(i, j int) bool {
		if hooks[i].Order != hooks[j].Order {
			return hooks[i].Order < hooks[j].Order
		}
		return hooks[i].ID < hooks[j].ID
	})
}
