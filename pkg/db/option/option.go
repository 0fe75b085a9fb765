package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed.
type QueryOption func(*gorm.DB) *gorm.DB

// Apply runs every option against db in order.
func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		if opt != nil {
			db = opt(db)
		}
	}
	return db
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow restricts SortBy to known columns. Empty means any.
	Allow []string
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" {
			column = "created_at"
		}
		if len(s.Allow) > 0 && !contains(s.Allow, column) {
			return db
		}
		direction := "ASC"
		if strings.EqualFold(s.OrderBy, "DESC") {
			direction = "DESC"
		}
		return db.Order(fmt.Sprintf("%s %s", column, direction))
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

func WithPreload(associations ...string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, a := range associations {
			db = db.Preload(a)
		}
		return db
	}
}

func WithWhere(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate adds SELECT ... FOR UPDATE where the dialect supports it.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if c.Operator == IN {
			return db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
		}
		return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
