package rule

import (
	"fmt"
	"strings"
	"time"
)

type Operator string

const (
	OpEquals       Operator = "EQUALS"
	OpNotEquals    Operator = "NOT_EQUALS"
	OpGreaterThan  Operator = "GREATER_THAN"
	OpLessThan     Operator = "LESS_THAN"
	OpGreaterEqual Operator = "GREATER_EQUAL"
	OpLessEqual    Operator = "LESS_EQUAL"
	OpContains     Operator = "CONTAINS"
	OpNotContains  Operator = "NOT_CONTAINS"
	OpStartsWith   Operator = "STARTS_WITH"
	OpEndsWith     Operator = "ENDS_WITH"
	OpRegex        Operator = "REGEX"
	OpIsEmpty      Operator = "IS_EMPTY"
	OpIsNotEmpty   Operator = "IS_NOT_EMPTY"
	OpIsDate       Operator = "IS_DATE"
	OpIsNumber     Operator = "IS_NUMBER"
	OpIsEmail      Operator = "IS_EMAIL"
)

var operators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {}, OpGreaterThan: {}, OpLessThan: {}, OpGreaterEqual: {}, OpLessEqual: {},
	OpContains: {}, OpNotContains: {}, OpStartsWith: {}, OpEndsWith: {}, OpRegex: {},
	OpIsEmpty: {}, OpIsNotEmpty: {}, OpIsDate: {}, OpIsNumber: {}, OpIsEmail: {},
}

func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

// IsOrdering reports whether o compares magnitudes.
func (o Operator) IsOrdering() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// IgnoresValue reports whether o never reads the comparison value.
func (o Operator) IgnoresValue() bool {
	switch o {
	case OpIsEmpty, OpIsNotEmpty, OpIsDate, OpIsNumber, OpIsEmail:
		return true
	}
	return false
}

// Condition is a single predicate over one record field. Stored per goal
// requirement, and embedded as JSON in scoring rules.
type Condition struct {
	ID                string      `gorm:"column:id;primaryKey" json:"id,omitempty"`
	GoalRequirementID string      `gorm:"column:goal_requirement_id;index" json:"-"`
	Position          int         `gorm:"column:position" json:"position,omitempty"`
	Field             TargetField `gorm:"column:field;type:varchar(32);not null" json:"field"`
	Operator          Operator    `gorm:"column:operator;type:varchar(32);not null" json:"operator"`
	Value             string      `gorm:"column:value" json:"value,omitempty"`
	CreatedAt         time.Time   `gorm:"column:created_at;autoCreateTime" json:"-"`
}

func (Condition) TableName() string { return "rule_conditions" }

func (c Condition) String() string {
	if c.Operator.IgnoresValue() {
		return fmt.Sprintf("%s %s", c.Field, c.Operator)
	}
	return fmt.Sprintf("%s %s %q", c.Field, c.Operator, c.Value)
}

// ScoringRule awards Points to every row satisfying its condition and,
// when set, its CEL expression.
type ScoringRule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Condition  *Condition `json:"condition,omitempty"`
	Expression string     `json:"expression,omitempty"`
	Points     int64      `json:"points"`
}

func (r ScoringRule) Label() string {
	if strings.TrimSpace(r.Name) != "" {
		return r.Name
	}
	return r.ID
}
