package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(field string, op Operator, value interface{}) Node {
	return Node{Kind: KindCondition, Condition: &Condition{Field: field, Operator: op, Value: value}}
}

func group(op LogicalOperator, children ...Node) Node {
	return Node{Kind: KindGroup, Group: &Group{Operator: op, Children: children}}
}

func TestCompile_RejectsEmptyID(t *testing.T) {
	_, err := Compile(Rule{ID: "", Root: cond("a", OpEq, 1)})
	require.Error(t, err)
}

func TestCompile_RejectsEmptyGroup(t *testing.T) {
	_, err := Compile(Rule{ID: "r1", Root: group(And)})
	require.Error(t, err)
}

func TestCompile_CollectsFieldPaths(t *testing.T) {
	rule := Rule{
		ID: "r1",
		Root: group(And,
			cond("order.amount", OpGte, 100.0),
			cond("order.items.0.sku", OpEq, "SKU1"),
		),
	}
	compiled, err := Compile(rule)
	require.NoError(t, err)
	assert.Equal(t, []string{"order.amount", "order.items.0.sku"}, compiled.FieldPaths)
}

func TestCompile_RejectsInvalidRegex(t *testing.T) {
	_, err := Compile(Rule{ID: "r1", Root: cond("name", OpRegex, "(")})
	require.Error(t, err)
}

func TestEvaluate_ANDShortCircuits(t *testing.T) {
	rule := Rule{
		ID: "r1",
		Root: group(And,
			cond("order.amount", OpGte, 100.0),
			cond("order.type", OpEq, "purchase"),
		),
	}
	compiled, err := Compile(rule)
	require.NoError(t, err)

	ctx := NewEvaluationContext(map[string]interface{}{
		"order": map[string]interface{}{"amount": 50.0, "type": "purchase"},
	})
	result, err := Evaluate(compiled, ctx)
	require.NoError(t, err)
	assert.False(t, result.Matched)
	// Second condition should never have been evaluated because AND
	// short-circuited on the first false.
	assert.Len(t, result.Trace, 2) // condition step + short-circuit step
}

func TestEvaluate_ORShortCircuits(t *testing.T) {
	rule := Rule{
		ID: "r1",
		Root: group(Or,
			cond("order.amount", OpGte, 100.0),
			cond("order.type", OpEq, "purchase"),
		),
	}
	compiled, err := Compile(rule)
	require.NoError(t, err)

	ctx := NewEvaluationContext(map[string]interface{}{
		"order": map[string]interface{}{"amount": 200.0, "type": "refund"},
	})
	result, err := Evaluate(compiled, ctx)
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, []string{"order.amount"}, result.MatchedConditions)
}

func TestEvaluate_MissingFieldSemantics(t *testing.T) {
	cases := []struct {
		name     string
		op       Operator
		value    interface{}
		expected bool
	}{
		{"eq missing false", OpEq, "x", false},
		{"neq missing true", OpNeq, "x", true},
		{"gt missing false", OpGt, 1.0, false},
		{"in missing false", OpIn, []interface{}{"x"}, false},
		{"not_in missing true", OpNotIn, []interface{}{"x"}, true},
		{"is_empty missing true", OpIsEmpty, nil, true},
		{"is_not_empty missing false", OpIsNotEmpty, nil, false},
		{"contains missing false", OpContains, "x", false},
		{"starts_with missing false", OpStartsWith, "x", false},
		{"before missing false", OpBefore, "2024-01-01T00:00:00Z", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := Rule{ID: "r1", Root: cond("missing.field", tc.op, tc.value)}
			compiled, err := Compile(rule)
			require.NoError(t, err)
			result, err := Evaluate(compiled, NewEvaluationContext(map[string]interface{}{}))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result.Matched)
		})
	}
}

func TestEvaluate_NumericDomainUnified(t *testing.T) {
	rule := Rule{ID: "r1", Root: cond("count", OpGte, 10)}
	compiled, err := Compile(rule)
	require.NoError(t, err)

	// The JSON decoder produces a float64 for "count"; the rule literal is
	// a Go int. Both must compare in the same decimal domain.
	result, err := Evaluate(compiled, NewEvaluationContext(map[string]interface{}{"count": float64(10)}))
	require.NoError(t, err)
	assert.True(t, result.Matched)
}

func TestEvaluate_Between(t *testing.T) {
	rule := Rule{ID: "r1", Root: cond("order.amount", OpBetween, []interface{}{50.0, 100.0})}
	compiled, err := Compile(rule)
	require.NoError(t, err)

	for _, amount := range []float64{49, 50, 75, 100, 101} {
		ctx := NewEvaluationContext(map[string]interface{}{"order": map[string]interface{}{"amount": amount}})
		result, err := Evaluate(compiled, ctx)
		require.NoError(t, err)
		expect := amount >= 50 && amount <= 100
		assert.Equal(t, expect, result.Matched, "amount=%v", amount)
	}
}

func TestRuleJSON_RoundTrip(t *testing.T) {
	rule := Rule{
		ID:      "r1",
		Name:    "big purchase",
		Version: "1",
		Root: group(And,
			cond("order.amount", OpGte, 100.0),
			group(Or, cond("order.type", OpEq, "purchase"), cond("order.type", OpEq, "seasonal")),
		),
	}
	data, err := rule.Root.MarshalJSON()
	require.NoError(t, err)

	var decoded Node
	require.NoError(t, decoded.UnmarshalJSON(data))

	compiled, err := Compile(Rule{ID: rule.ID, Root: decoded})
	require.NoError(t, err)
	result, err := Evaluate(compiled, NewEvaluationContext(map[string]interface{}{
		"order": map[string]interface{}{"amount": 150.0, "type": "seasonal"},
	}))
	require.NoError(t, err)
	assert.True(t, result.Matched)
}

func TestStore_LoadReplacesInPlace(t *testing.T) {
	store := NewStore()
	_, err := store.Load(Rule{ID: "r1", Root: cond("a", OpEq, 1.0)})
	require.NoError(t, err)

	_, err = store.Load(Rule{ID: "r1", Root: cond("b", OpEq, 2.0)})
	require.NoError(t, err)

	compiled, ok := store.Get("r1")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, compiled.FieldPaths)
}
