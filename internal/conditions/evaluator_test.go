package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultlogic/pulse/pkg/schema"
)

func leaf(fieldPath, op string, value any) *schema.ConditionExpression {
	return &schema.ConditionExpression{FieldPath: fieldPath, Op: op, Value: value}
}

func testScope() MapScope {
	return MapScope{
		"age":    30,
		"city":   "NYC",
		"name":   "Alice",
		"status": "active",
		"tags":   []any{"a", "b"},
		"blank":  "   ",
		"people": schema.NewListVariable(
			[]map[string]any{
				{"id": "1", "name": "Alice", "age": 30},
				{"id": "2", "name": "Bob", "age": 25},
			},
			schema.ListMetadata{Source: "table", SourceID: "contacts"},
		),
	}
}

func TestEvaluateLeafOperators(t *testing.T) {
	scope := testScope()
	e := New(nil)

	cases := []struct {
		name string
		expr *schema.ConditionExpression
		want bool
	}{
		{"equals", leaf("city", schema.OpEquals, "NYC"), true},
		{"equals numeric coercion", leaf("age", schema.OpEquals, 30.0), true},
		{"equals string-number coercion", leaf("age", schema.OpEquals, "30"), true},
		{"not equals", leaf("city", schema.OpNotEquals, "LA"), true},
		{"greater than", leaf("age", schema.OpGreaterThan, 25), true},
		{"greater than false", leaf("age", schema.OpGreaterThan, 30), false},
		{"gte boundary", leaf("age", schema.OpGreaterThanOrEqual, 30), true},
		{"less than", leaf("age", schema.OpLessThan, 31), true},
		{"lte boundary", leaf("age", schema.OpLessThanOrEqual, 30), true},
		{"string contains", leaf("name", schema.OpContains, "lic"), true},
		{"array contains", leaf("tags", schema.OpContains, "b"), true},
		{"array contains miss", leaf("tags", schema.OpContains, "z"), false},
		{"is_empty on blank string", leaf("blank", schema.OpIsEmpty, nil), true},
		{"is_empty on value", leaf("city", schema.OpIsEmpty, nil), false},
		{"is_not_empty", leaf("city", schema.OpIsNotEmpty, nil), true},
		{"missing var equals is false", leaf("ghost", schema.OpEquals, "x"), false},
		{"missing var is_empty is true", leaf("ghost", schema.OpIsEmpty, nil), true},
		{"non-numeric ordering is false", leaf("city", schema.OpGreaterThan, 10), false},
		{"unknown operator is false", leaf("city", "matches", "NYC"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate(tc.expr, scope))
		})
	}
}

func TestEvaluateComposite(t *testing.T) {
	scope := testScope()
	e := New(nil)

	and := &schema.ConditionExpression{
		Combinator: schema.CombinatorAnd,
		Rules: []*schema.ConditionExpression{
			leaf("city", schema.OpEquals, "NYC"),
			leaf("age", schema.OpGreaterThan, 25),
		},
	}
	assert.True(t, e.Evaluate(and, scope))

	or := &schema.ConditionExpression{
		Combinator: schema.CombinatorOr,
		Rules: []*schema.ConditionExpression{
			leaf("city", schema.OpEquals, "LA"),
			leaf("age", schema.OpGreaterThan, 25),
		},
	}
	assert.True(t, e.Evaluate(or, scope))

	// Vacuous truth values.
	emptyAnd := &schema.ConditionExpression{Combinator: schema.CombinatorAnd}
	assert.True(t, e.Evaluate(emptyAnd, scope))
	emptyOr := &schema.ConditionExpression{Combinator: schema.CombinatorOr}
	assert.False(t, e.Evaluate(emptyOr, scope))

	nested := &schema.ConditionExpression{
		Combinator: schema.CombinatorOr,
		Rules: []*schema.ConditionExpression{
			{Combinator: schema.CombinatorAnd, Rules: []*schema.ConditionExpression{
				leaf("city", schema.OpEquals, "LA"),
			}},
			{Combinator: schema.CombinatorAnd, Rules: []*schema.ConditionExpression{
				leaf("status", schema.OpEquals, "active"),
				leaf("age", schema.OpLessThanOrEqual, 30),
			}},
		},
	}
	assert.True(t, e.Evaluate(nested, scope))
}

func TestEvaluateMalformedDegradesToFalse(t *testing.T) {
	scope := testScope()
	e := New(nil)

	assert.False(t, e.Evaluate(nil, scope))
	assert.False(t, e.Evaluate(&schema.ConditionExpression{Combinator: "xor"}, scope))
	assert.False(t, e.Evaluate(&schema.ConditionExpression{FieldPath: "city"}, scope))
	assert.False(t, e.Evaluate(&schema.ConditionExpression{Op: schema.OpEquals}, scope))
}

func TestVariableValueSource(t *testing.T) {
	scope := MapScope{"a": 5, "b": 5.0, "c": 7}
	e := New(nil)

	expr := &schema.ConditionExpression{
		FieldPath:   "a",
		Op:          schema.OpEquals,
		ValueSource: schema.ValueSourceVariable,
		Value:       "b",
	}
	assert.True(t, e.Evaluate(expr, scope))

	expr.Value = "c"
	assert.False(t, e.Evaluate(expr, scope))
}

func TestResolvePath(t *testing.T) {
	scope := testScope()

	assert.Equal(t, 30, ResolvePath(scope, "age"))
	assert.EqualValues(t, 2, ResolvePath(scope, "people.count"))
	assert.Equal(t, "Bob", ResolvePath(scope, "people.rows[1].name"))
	assert.Equal(t, "table", ResolvePath(scope, "people.metadata.source"))
	assert.Nil(t, ResolvePath(scope, "people.rows[9].name"))
	assert.Nil(t, ResolvePath(scope, "people.nope"))
	assert.Nil(t, ResolvePath(scope, "ghost.deep.path"))
	assert.Equal(t, "a", ResolvePath(scope, "tags[0]"))
	assert.Nil(t, ResolvePath(nil, "age"))
	assert.Nil(t, ResolvePath(scope, ""))
}

func TestListVariableEmptiness(t *testing.T) {
	e := New(nil)
	scope := MapScope{
		"empty": schema.NewListVariable(nil, schema.ListMetadata{}),
		"full":  testScope()["people"],
	}
	assert.True(t, e.Evaluate(leaf("empty", schema.OpIsEmpty, nil), scope))
	assert.False(t, e.Evaluate(leaf("full", schema.OpIsEmpty, nil), scope))
	require.True(t, e.Evaluate(leaf("full", schema.OpIsNotEmpty, nil), scope))
}
