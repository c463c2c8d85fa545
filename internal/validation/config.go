// Package validation checks block and hook configurations against JSON
// Schemas before the engine dispatches them. Malformed configuration is a
// validation error surfaced per block; it never stops sibling blocks.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/vaultlogic/pulse/pkg/schema"
)

const conditionDef = `{
  "type": "object",
  "properties": {
    "combinator": { "type": "string", "enum": ["and", "or"] },
    "rules": { "type": "array", "items": { "type": "object" } },
    "fieldPath": { "type": "string" },
    "op": { "type": "string" },
    "valueSource": { "type": "string", "enum": ["const", "variable"] },
    "value": {}
  }
}`

const scriptProps = `
    "name": { "type": "string" },
    "language": { "type": "string", "enum": ["expr", "jq", "cel"] },
    "code": { "type": "string", "minLength": 1 },
    "inputKeys": { "type": "array", "items": { "type": "string" } },
    "timeoutMs": { "type": "integer", "minimum": 0, "maximum": 60000 }
`

// blockConfigSchemas maps each block type to the JSON Schema its config must
// satisfy. Legacy aliases are normalized before lookup.
var blockConfigSchemas = map[schema.BlockType]string{
	schema.BlockTypePrefill: `{
  "type": "object",
  "properties": {
    "condition": ` + conditionDef + `,
    "values": { "type": "object" },
    "computed": { "type": "object", "additionalProperties": { "type": "string" } },
    "overwrite": { "type": "boolean" }
  },
  "additionalProperties": false
}`,
	schema.BlockTypeValidate: `{
  "type": "object",
  "required": ["rules"],
  "properties": {
    "condition": ` + conditionDef + `,
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["fieldPath", "op"],
        "properties": {
          "fieldPath": { "type": "string", "minLength": 1 },
          "op": { "type": "string" },
          "valueSource": { "type": "string", "enum": ["const", "variable"] },
          "value": {},
          "message": { "type": "string" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`,
	schema.BlockTypeBranch: `{
  "type": "object",
  "required": ["condition", "targetSectionId"],
  "properties": {
    "condition": ` + conditionDef + `,
    "targetSectionId": { "type": "string", "minLength": 1 },
    "elseSectionId": { "type": "string" }
  },
  "additionalProperties": false
}`,
	schema.BlockTypeQuery: `{
  "type": "object",
  "required": ["tableId", "outputVar"],
  "properties": {
    "condition": ` + conditionDef + `,
    "tableId": { "type": "string", "minLength": 1 },
    "outputVar": { "type": "string", "minLength": 1 },
    "filters": ` + conditionDef + `,
    "limit": { "type": "integer", "minimum": 0 },
    "offset": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false
}`,
	schema.BlockTypeWrite: `{
  "type": "object",
  "required": ["tableId", "sourceListVar"],
  "properties": {
    "condition": ` + conditionDef + `,
    "tableId": { "type": "string", "minLength": 1 },
    "sourceListVar": { "type": "string", "minLength": 1 },
    "keyColumn": { "type": "string" },
    "upsert": { "type": "boolean" }
  },
  "additionalProperties": false
}`,
	schema.BlockTypeExternalSend: `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "condition": ` + conditionDef + `,
    "url": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "enum": ["POST", "PUT", "PATCH"] },
    "headers": { "type": "object", "additionalProperties": { "type": "string" } },
    "payloadVars": { "type": "array", "items": { "type": "string" } },
    "required": { "type": "boolean" }
  },
  "additionalProperties": false
}`,
	schema.BlockTypeListTools: `{
  "type": "object",
  "required": ["sourceListVar", "outputListVar"],
  "properties": {
    "condition": ` + conditionDef + `,
    "sourceListVar": { "type": "string", "minLength": 1 },
    "outputListVar": { "type": "string", "minLength": 1 },
    "filters": ` + conditionDef + `,
    "sort": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["fieldPath"],
        "properties": {
          "fieldPath": { "type": "string", "minLength": 1 },
          "direction": { "type": "string", "enum": ["asc", "desc"] }
        },
        "additionalProperties": false
      }
    },
    "dedupe": {
      "type": "object",
      "required": ["fieldPath"],
      "properties": { "fieldPath": { "type": "string", "minLength": 1 } },
      "additionalProperties": false
    },
    "offset": { "type": "integer", "minimum": 0 },
    "limit": { "type": "integer", "minimum": 0 },
    "select": { "type": "array", "items": { "type": "string" } },
    "outputs": {
      "type": "object",
      "properties": {
        "countVar": { "type": "string" },
        "firstVar": { "type": "string" }
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`,
	schema.BlockTypeJS: `{
  "type": "object",
  "required": ["language", "code", "outputKey"],
  "properties": {
    "condition": ` + conditionDef + `,` + scriptProps + `,
    "outputKey": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`,
}

const hookSchemaJSON = `{
  "type": "object",
  "required": ["language", "code"],
  "properties": {` + scriptProps + `,
    "outputKeys": { "type": "array", "items": { "type": "string" } },
    "mutationMode": { "type": "boolean" }
  }
}`

// ConfigValidator validates block configs and hook shapes. Schemas are
// compiled once at construction; Validate is safe for concurrent use.
type ConfigValidator struct {
	blockSchemas map[schema.BlockType]*jsonschema.Schema
	hookSchema   *jsonschema.Schema
}

func NewConfigValidator() (*ConfigValidator, error) {
	v := &ConfigValidator{
		blockSchemas: make(map[schema.BlockType]*jsonschema.Schema, len(blockConfigSchemas)),
	}
	for blockType, schemaJSON := range blockConfigSchemas {
		compiled, err := compileSchema(fmt.Sprintf("pulse://schemas/block-%s.json", blockType), schemaJSON)
		if err != nil {
			return nil, fmt.Errorf("compile %s block schema: %w", blockType, err)
		}
		v.blockSchemas[blockType] = compiled
	}
	compiled, err := compileSchema("pulse://schemas/hook.json", hookSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile hook schema: %w", err)
	}
	v.hookSchema = compiled
	return v, nil
}

// ValidateBlock checks a block's type and config. Unknown types and schema
// violations come back as validation errors carrying the block id.
func (v *ConfigValidator) ValidateBlock(block *schema.Block) error {
	if block == nil {
		return schema.NewError(schema.ErrCodeValidation, "block is nil")
	}
	compiled, ok := v.blockSchemas[block.Type.Normalize()]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unknown block type %q", block.Type).WithSubject(block.ID)
	}
	config := block.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(config)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation,
			"block config is not valid JSON").WithSubject(block.ID).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err).WithSubject(block.ID)
	}
	return nil
}

// ValidateHook checks a lifecycle hook's script shape.
func (v *ConfigValidator) ValidateHook(hook *schema.LifecycleHook) error {
	if hook == nil {
		return schema.NewError(schema.ErrCodeValidation, "hook is nil")
	}
	doc, err := toJSONValue(hook)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation,
			"failed to serialize hook").WithSubject(hook.ID).WithCause(err)
	}
	if err := v.hookSchema.Validate(doc); err != nil {
		return toEngineError(err).WithSubject(hook.ID)
	}
	return nil
}

func compileSchema(url, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// listing each leaf violation with its instance location.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"config validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
