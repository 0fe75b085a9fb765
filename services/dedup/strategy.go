package dedup

import (
	"fmt"
	"strings"
)

// Strategy decides what happens to a row whose order number was already counted.
type Strategy string

const (
	StrategyIgnore    Strategy = "IGNORE"
	StrategyOverwrite Strategy = "OVERWRITE"
	StrategyRejectRow Strategy = "REJECT_ROW"
	StrategyMerge     Strategy = "MERGE"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyIgnore, StrategyOverwrite, StrategyRejectRow, StrategyMerge:
		return true
	}
	return false
}

func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown duplicate strategy %q", s)
	}
	return st, nil
}

// Action is what the caller must do with a candidate row.
type Action int

const (
	ActionAccept Action = iota
	ActionSkip
	ActionReject
	ActionOverwrite
	ActionMerge
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionSkip:
		return "skip"
	case ActionReject:
		return "reject"
	case ActionOverwrite:
		return "overwrite"
	case ActionMerge:
		return "merge"
	default:
		return "unknown"
	}
}
