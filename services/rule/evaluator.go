package rule

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Result is the outcome of one condition. Warning explains a comparison that
// could not be made; Matched is always false in that case.
type Result struct {
	Matched bool
	Warning string
}

// Evaluator checks conditions against record values. It holds no per-call
// state and is safe for concurrent use.
type Evaluator struct {
	validate *validator.Validate
}

func NewEvaluator() *Evaluator {
	return &Evaluator{validate: validator.New()}
}

// EvaluateRecord evaluates c against the field it names in rec.
func (e *Evaluator) EvaluateRecord(c Condition, rec Record) Result {
	return e.Evaluate(c, rec.Value(c.Field))
}

// Evaluate never panics and never returns an error: malformed input yields
// a non-match, with a warning when the operator needed a parse.
func (e *Evaluator) Evaluate(c Condition, value string) Result {
	switch c.Operator {
	case OpIsEmpty:
		return Result{Matched: strings.TrimSpace(value) == ""}
	case OpIsNotEmpty:
		return Result{Matched: strings.TrimSpace(value) != ""}
	case OpIsDate:
		_, err := ParseDate(value)
		return Result{Matched: err == nil}
	case OpIsNumber:
		_, err := ParseNumber(value)
		return Result{Matched: err == nil}
	case OpIsEmail:
		v := strings.TrimSpace(value)
		return Result{Matched: v != "" && e.validate.Var(v, "email") == nil}
	case OpEquals, OpNotEquals:
		return e.equality(c, value)
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return e.ordering(c, value)
	case OpContains:
		return Result{Matched: strings.Contains(strings.ToLower(value), strings.ToLower(c.Value))}
	case OpNotContains:
		return Result{Matched: !strings.Contains(strings.ToLower(value), strings.ToLower(c.Value))}
	case OpStartsWith:
		return Result{Matched: strings.HasPrefix(strings.ToLower(value), strings.ToLower(c.Value))}
	case OpEndsWith:
		return Result{Matched: strings.HasSuffix(strings.ToLower(value), strings.ToLower(c.Value))}
	case OpRegex:
		re, err := compiledPattern(c.Value)
		if err != nil {
			return Result{Warning: fmt.Sprintf("%s: invalid pattern %q", c.Field, c.Value)}
		}
		return Result{Matched: re.MatchString(value)}
	default:
		return Result{Warning: fmt.Sprintf("%s: unsupported operator %q", c.Field, c.Operator)}
	}
}

func (e *Evaluator) equality(c Condition, value string) Result {
	negate := c.Operator == OpNotEquals

	switch c.Field.Kind() {
	case KindNumeric:
		left, errL := ParseNumber(value)
		right, errR := ParseNumber(c.Value)
		if errL != nil || errR != nil {
			return Result{Warning: fmt.Sprintf("%s: cannot compare %q with %q as numbers", c.Field, value, c.Value)}
		}
		return Result{Matched: left.Equal(right) != negate}
	case KindDate:
		left, errL := ParseDate(value)
		right, errR := ParseDate(c.Value)
		if errL == nil && errR == nil {
			return Result{Matched: left.Equal(right) != negate}
		}
	}

	return Result{Matched: (value == c.Value) != negate}
}

func (e *Evaluator) ordering(c Condition, value string) Result {
	cmp, ok := compareTyped(c.Field, value, c.Value)
	if !ok {
		return Result{Warning: fmt.Sprintf("%s: cannot order %q against %q", c.Field, value, c.Value)}
	}

	switch c.Operator {
	case OpGreaterThan:
		return Result{Matched: cmp > 0}
	case OpLessThan:
		return Result{Matched: cmp < 0}
	case OpGreaterEqual:
		return Result{Matched: cmp >= 0}
	default:
		return Result{Matched: cmp <= 0}
	}
}

// compareTyped compares as numbers for numeric fields, as dates for date
// fields, and tries numbers then dates for text fields.
func compareTyped(field TargetField, left, right string) (int, bool) {
	switch field.Kind() {
	case KindNumeric:
		return compareNumbers(left, right)
	case KindDate:
		return compareDates(left, right)
	default:
		if cmp, ok := compareNumbers(left, right); ok {
			return cmp, true
		}
		return compareDates(left, right)
	}
}

func compareNumbers(left, right string) (int, bool) {
	l, err := ParseNumber(left)
	if err != nil {
		return 0, false
	}
	r, err := ParseNumber(right)
	if err != nil {
		return 0, false
	}
	return l.Cmp(r), true
}

func compareDates(left, right string) (int, bool) {
	l, err := ParseDate(left)
	if err != nil {
		return 0, false
	}
	r, err := ParseDate(right)
	if err != nil {
		return 0, false
	}
	return l.Compare(r), true
}

// All evaluates conditions with AND semantics, stopping at the first miss.
// Warnings raised before the miss are returned.
func (e *Evaluator) All(conds []Condition, rec Record) (bool, []string) {
	var warnings []string
	for _, c := range conds {
		res := e.EvaluateRecord(c, rec)
		if res.Warning != "" {
			warnings = append(warnings, res.Warning)
		}
		if !res.Matched {
			return false, warnings
		}
	}
	return true, warnings
}
