package celengine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

var envCache = sync.Map{}

// GetOrBuildEnv returns a cached environment declaring vars. Environments are keyed by
// their variable signature, so two callers declaring the same set share one env.
func GetOrBuildEnv(vars map[string]*cel.Type) (*cel.Env, error) {
	key := signature(vars)
	if v, ok := envCache.Load(key); ok {
		return v.(*cel.Env), nil
	}

	env, err := BuildEnv(vars)
	if err != nil {
		return nil, err
	}

	actual, _ := envCache.LoadOrStore(key, env)
	return actual.(*cel.Env), nil
}

func BuildEnv(vars map[string]*cel.Type) (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for name, typ := range vars {
		opts = append(opts, cel.Variable(name, typ))
	}
	return cel.NewEnv(opts...)
}

// CompileBool compiles expr and checks it yields a bool.
func CompileBool(env *cel.Env, expr string) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	return env.Program(ast)
}

func ValidateExpression(env *cel.Env, expr string) error {
	_, err := CompileBool(env, expr)
	return err
}

func EvalBool(prg cel.Program, attrs map[string]any) (bool, error) {
	if prg == nil {
		return false, fmt.Errorf("program is nil")
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}

func signature(vars map[string]*cel.Type) string {
	parts := make([]string, 0, len(vars))
	for name, typ := range vars {
		parts = append(parts, name+":"+typ.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
