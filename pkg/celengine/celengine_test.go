package celengine

import (
	"testing"

	"github.com/google/cel-go/cel"
	"github.com/stretchr/testify/require"
)

var saleVars = map[string]*cel.Type{
	"product_name": cel.StringType,
	"quantity":     cel.IntType,
	"sale_value":   cel.DoubleType,
}

func TestGetOrBuildEnv_Cached(t *testing.T) {
	a, err := GetOrBuildEnv(saleVars)
	require.NoError(t, err)
	b, err := GetOrBuildEnv(map[string]*cel.Type{
		"sale_value":   cel.DoubleType,
		"product_name": cel.StringType,
		"quantity":     cel.IntType,
	})
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestCompileAndEval(t *testing.T) {
	env, err := GetOrBuildEnv(saleVars)
	require.NoError(t, err)

	prg, err := CompileBool(env, `quantity >= 2 && product_name.contains("Super")`)
	require.NoError(t, err)

	ok, err := EvalBool(prg, map[string]any{"quantity": int64(3), "product_name": "Lente Super-foco", "sale_value": 10.0})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = EvalBool(prg, map[string]any{"quantity": int64(1), "product_name": "Lente Super-foco", "sale_value": 10.0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileBool_Rejects(t *testing.T) {
	env, err := GetOrBuildEnv(saleVars)
	require.NoError(t, err)

	require.Error(t, ValidateExpression(env, ""))
	require.Error(t, ValidateExpression(env, "quantity +"))
	require.Error(t, ValidateExpression(env, "quantity + 1"))
	require.Error(t, ValidateExpression(env, "unknown_var > 1"))
	require.NoError(t, ValidateExpression(env, "sale_value > 100.0"))
}
