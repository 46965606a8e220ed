package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolverFor(m map[string]interface{}) func(string) (interface{}, bool) {
	return func(path string) (interface{}, bool) {
		v, ok := m[path]
		return v, ok
	}
}

func TestEvaluateLiterals(t *testing.T) {
	ok, err := Evaluate("true", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("false", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate(`"" == ""`, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateComparisonsAndLogic(t *testing.T) {
	resolve := resolverFor(map[string]interface{}{
		"score":  float64(7),
		"status": "ready",
	})

	ok, err := Evaluate("context.score >= 5 && context.status == \"ready\"", resolve)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("context.score < 5 || context.status != \"ready\"", resolve)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate("!(context.score < 5)", resolve)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateMissingContextPathIsNull(t *testing.T) {
	resolve := resolverFor(map[string]interface{}{})
	ok, err := Evaluate("context.missing == null", resolve)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateRejectsDisallowedTokens(t *testing.T) {
	_, err := Evaluate("context.score.toFixed()", nil)
	assert.Error(t, err)

	_, err = Evaluate("someFunc(1)", nil)
	assert.Error(t, err)

	_, err = Evaluate("context.a + context.b", nil)
	assert.Error(t, err)
}

func TestEvaluatePrecedence(t *testing.T) {
	resolve := resolverFor(map[string]interface{}{"a": float64(1), "b": float64(2)})
	ok, err := Evaluate("context.a == 1 || context.a == 2 && context.b == 3", resolve)
	require.NoError(t, err)
	assert.True(t, ok, "&& should bind tighter than ||")
}

func TestEvaluateUnaryBindsTighterThanComparison(t *testing.T) {
	resolve := resolverFor(map[string]interface{}{"flag": false})

	// !context.flag == false is (!context.flag) == false, i.e. true == false.
	ok, err := Evaluate("!context.flag == false", resolve)
	require.NoError(t, err)
	assert.False(t, ok, "! must bind to context.flag alone, not the whole comparison")

	ok, err = Evaluate("!context.flag == true", resolve)
	require.NoError(t, err)
	assert.True(t, ok)
}
