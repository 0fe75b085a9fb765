package rule

import (
	"fmt"
	"strings"
	"time"

	"incentive-controlplane/pkg/celengine"

	"github.com/google/cel-go/cel"
)

// recordVars declares every record field for CEL scoring expressions.
// SALE_VALUE, QUANTITY and SALE_DATE are exposed typed; the rest as strings.
var recordVars = func() map[string]*cel.Type {
	vars := make(map[string]*cel.Type, len(Fields))
	for _, f := range Fields {
		vars[celName(f)] = cel.StringType
	}
	vars[celName(FieldSaleValue)] = cel.DoubleType
	vars[celName(FieldQuantity)] = cel.IntType
	vars[celName(FieldSaleDate)] = cel.TimestampType
	return vars
}()

func celName(f TargetField) string {
	return strings.ToLower(string(f))
}

func compileRecordExpression(expr string) (cel.Program, error) {
	env, err := celengine.GetOrBuildEnv(recordVars)
	if err != nil {
		return nil, err
	}
	return celengine.CompileBool(env, expr)
}

// Activation builds CEL inputs for rec. Unparseable typed fields read as zero values.
func Activation(rec Record) map[string]any {
	attrs := make(map[string]any, len(Fields))
	for _, f := range Fields {
		attrs[celName(f)] = rec.Value(f)
	}

	value, _ := ParseNumber(rec.SaleValue)
	attrs[celName(FieldSaleValue)] = value.InexactFloat64()

	qty, err := ParseNumber(rec.Quantity)
	if err != nil {
		attrs[celName(FieldQuantity)] = int64(0)
	} else {
		attrs[celName(FieldQuantity)] = qty.IntPart()
	}

	date, err := ParseDate(rec.SaleDate)
	if err != nil {
		date = time.Time{}
	}
	attrs[celName(FieldSaleDate)] = date
	return attrs
}

// Score is the sum of every scoring rule a record satisfied.
type Score struct {
	Points    int64
	Triggered []string
	Warnings  []string
}

func (s Score) TriggeredLabel() string {
	return strings.Join(s.Triggered, ", ")
}

// Score evaluates each rule independently; rules do not short-circuit each other.
func (e *Evaluator) Score(rules []ScoringRule, rec Record) Score {
	var out Score
	var attrs map[string]any

	for _, r := range rules {
		if r.Condition != nil {
			res := e.EvaluateRecord(*r.Condition, rec)
			if res.Warning != "" {
				out.Warnings = append(out.Warnings, fmt.Sprintf("rule %s: %s", r.Label(), res.Warning))
			}
			if !res.Matched {
				continue
			}
		}

		if strings.TrimSpace(r.Expression) != "" {
			prg, err := compiledProgram(r.Expression)
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("rule %s: invalid expression", r.Label()))
				continue
			}
			if attrs == nil {
				attrs = Activation(rec)
			}
			ok, err := celengine.EvalBool(prg, attrs)
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("rule %s: %v", r.Label(), err))
				continue
			}
			if !ok {
				continue
			}
		}

		if r.Condition == nil && strings.TrimSpace(r.Expression) == "" {
			continue
		}

		out.Points += r.Points
		out.Triggered = append(out.Triggered, r.Label())
	}

	return out
}
