package rule

import (
	"fmt"
	"strings"

	"incentive-controlplane/pkg/errutil"
)

// CheckConditions rejects conditions that cannot be evaluated meaningfully:
// unknown fields or operators, malformed patterns, and ordering operators
// whose comparison value is neither a number nor a date.
func CheckConditions(conds []Condition) error {
	var details []errutil.Detail
	for i, c := range conds {
		if msg := checkCondition(c); msg != "" {
			details = append(details, errutil.Detail{
				Field:   fmt.Sprintf("conditions[%d]", i),
				Message: msg,
			})
		}
	}
	if len(details) == 0 {
		return nil
	}
	return errutil.ConfigurationError(errutil.ReasonInvalidRule,
		fmt.Sprintf("%d invalid condition(s): %s", len(details), details[0].Message),
		errutil.WithDetails(details...))
}

func checkCondition(c Condition) string {
	if c.Field == FieldIgnore || !c.Field.Valid() {
		return fmt.Sprintf("unknown field %q", c.Field)
	}
	if !c.Operator.Valid() {
		return fmt.Sprintf("unknown operator %q", c.Operator)
	}

	switch {
	case c.Operator == OpRegex:
		if _, err := compiledPattern(c.Value); err != nil {
			return fmt.Sprintf("%s: invalid regex %q: %v", c.Field, c.Value, err)
		}
	case c.Operator.IsOrdering():
		if _, ok := compareTyped(c.Field, c.Value, c.Value); !ok {
			return fmt.Sprintf("%s %s needs a numeric or date value, got %q", c.Field, c.Operator, c.Value)
		}
	case !c.Operator.IgnoresValue() && c.Field.Kind() == KindNumeric:
		if _, err := ParseNumber(c.Value); err != nil {
			return fmt.Sprintf("%s %s needs a numeric value, got %q", c.Field, c.Operator, c.Value)
		}
	}
	return ""
}

// CheckScoringRules validates each rule's condition and CEL expression.
func CheckScoringRules(rules []ScoringRule) error {
	var details []errutil.Detail
	for i, r := range rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.Condition == nil && strings.TrimSpace(r.Expression) == "" {
			details = append(details, errutil.Detail{Field: field, Message: fmt.Sprintf("rule %s has neither condition nor expression", r.Label())})
			continue
		}
		if r.Points < 0 {
			details = append(details, errutil.Detail{Field: field, Message: fmt.Sprintf("rule %s has negative points", r.Label())})
		}
		if r.Condition != nil {
			if msg := checkCondition(*r.Condition); msg != "" {
				details = append(details, errutil.Detail{Field: field, Message: msg})
			}
		}
		if strings.TrimSpace(r.Expression) != "" {
			if _, err := compiledProgram(r.Expression); err != nil {
				details = append(details, errutil.Detail{Field: field, Message: fmt.Sprintf("rule %s: invalid expression: %v", r.Label(), err)})
			}
		}
	}
	if len(details) == 0 {
		return nil
	}
	return errutil.ConfigurationError(errutil.ReasonInvalidRule,
		fmt.Sprintf("%d invalid scoring rule(s): %s", len(details), details[0].Message),
		errutil.WithDetails(details...))
}
