package campaign

import (
	"fmt"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/rule"
)

// Match is the requirement a record counts toward.
type Match struct {
	Requirement *GoalRequirement
	Warnings    []string
}

// Matcher picks the goal a record satisfies. It reads its inputs only and is
// safe to share between workers.
type Matcher struct {
	evaluator *rule.Evaluator
}

func NewMatcher(evaluator *rule.Evaluator) *Matcher {
	if evaluator == nil {
		evaluator = rule.NewEvaluator()
	}
	return &Matcher{evaluator: evaluator}
}

// Match walks requirements by Position and returns the first one whose
// conditions all hold. No match is a row error with NO_MATCHING_REQUIREMENT.
func (m *Matcher) Match(c *Campaign, rec rule.Record) (*Match, error) {
	var warnings []string
	for _, req := range c.OrderedRequirements() {
		ok, w := m.evaluator.All(req.Conditions, rec)
		warnings = append(warnings, w...)
		if ok {
			return &Match{Requirement: req, Warnings: warnings}, nil
		}
	}

	msg := fmt.Sprintf("no goal of campaign %q matches this sale", c.Title)
	if name := rec.ProductName; name != "" {
		msg = fmt.Sprintf("product %q does not match any goal of campaign %q", name, c.Title)
	}
	details := make([]errutil.Detail, 0, len(warnings))
	for _, w := range warnings {
		details = append(details, errutil.Detail{Field: "conditions", Message: w})
	}
	return nil, errutil.RowError(errutil.ReasonNoMatchingRequirement, msg, errutil.WithDetails(details...))
}
