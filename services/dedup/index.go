package dedup

import (
	"fmt"
	"math"
	"strings"
	"time"

	"incentive-controlplane/pkg/errutil"
)

// Entry statuses mirror submission statuses.
const (
	StatusPending   = "PENDING"
	StatusValidated = "VALIDATED"
	StatusRejected  = "REJECTED"
)

// Entry is an order number already counted, either stored as a submission or
// accepted earlier in the same batch.
type Entry struct {
	OrderNumber   string
	SubmissionID  string
	RequirementID string
	UserID        string
	Status        string
	Quantity      int64
	SaleDate      time.Time
	// Line is the input line that introduced the entry; zero for stored submissions.
	Line int
}

func (e Entry) source() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d", e.Line)
	}
	return "an existing submission"
}

// Decision is the resolved outcome for one candidate.
type Decision struct {
	Action Action
	Prior  *Entry
	// Quantity and SaleDate are the values the surviving submission must hold
	// after an overwrite or merge.
	Quantity int64
	SaleDate time.Time
	// Delta is the quantity that still has to reach kit progress.
	Delta   int64
	Err     error
	Message string
}

// Index tracks order numbers for one scope: a campaign, or a single job when
// there is no campaign. It is not safe for concurrent use; callers serialize
// on the scope key.
type Index struct {
	entries map[string]*Entry
}

func NewIndex(entries ...Entry) *Index {
	ix := &Index{entries: make(map[string]*Entry, len(entries))}
	ix.Load(entries...)
	return ix
}

// Key is the comparison form of an order number.
func Key(orderNumber string) string {
	return strings.ToUpper(strings.TrimSpace(orderNumber))
}

// Load replaces entries with stored state.
func (ix *Index) Load(entries ...Entry) {
	for i := range entries {
		e := entries[i]
		ix.entries[Key(e.OrderNumber)] = &e
	}
}

func (ix *Index) Lookup(orderNumber string) (Entry, bool) {
	e, ok := ix.entries[Key(orderNumber)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (ix *Index) Len() int {
	return len(ix.entries)
}

// Resolve applies strategy to candidate without changing the index. Callers
// Commit the resulting entry once the row has been applied.
func (ix *Index) Resolve(strategy Strategy, candidate Entry) Decision {
	prior, ok := ix.entries[Key(candidate.OrderNumber)]
	if !ok {
		return Decision{
			Action:   ActionAccept,
			Quantity: candidate.Quantity,
			SaleDate: candidate.SaleDate,
			Delta:    candidate.Quantity,
		}
	}
	p := *prior

	switch strategy {
	case StrategyIgnore:
		return Decision{
			Action:  ActionSkip,
			Prior:   &p,
			Message: fmt.Sprintf("order %s was already counted by %s; row ignored", candidate.OrderNumber, p.source()),
		}

	case StrategyOverwrite:
		if p.Status != StatusPending {
			return reject(&p, fmt.Sprintf("order %s was already counted by %s with status %s and can no longer be overwritten",
				candidate.OrderNumber, p.source(), p.Status))
		}
		return Decision{
			Action:   ActionOverwrite,
			Prior:    &p,
			Quantity: candidate.Quantity,
			SaleDate: candidate.SaleDate,
			Delta:    candidate.Quantity,
			Message:  fmt.Sprintf("order %s replaces the pending submission", candidate.OrderNumber),
		}

	case StrategyMerge:
		if p.Status == StatusRejected {
			return reject(&p, fmt.Sprintf("order %s was rejected earlier and cannot be merged", candidate.OrderNumber))
		}
		if p.RequirementID != "" && candidate.RequirementID != "" && p.RequirementID != candidate.RequirementID {
			return reject(&p, fmt.Sprintf("order %s was counted toward a different goal than this row", candidate.OrderNumber))
		}
		if p.UserID != "" && candidate.UserID != "" && p.UserID != candidate.UserID {
			return reject(&p, fmt.Sprintf("order %s belongs to another seller and cannot be merged", candidate.OrderNumber))
		}
		date := p.SaleDate
		if date.IsZero() || (!candidate.SaleDate.IsZero() && candidate.SaleDate.Before(date)) {
			date = candidate.SaleDate
		}
		if candidate.Quantity < 0 || p.Quantity > math.MaxInt64-candidate.Quantity {
			return reject(&p, fmt.Sprintf("order %s cannot be merged: quantity %d plus %d is out of range",
				candidate.OrderNumber, p.Quantity, candidate.Quantity))
		}
		total := p.Quantity + candidate.Quantity
		delta := candidate.Quantity
		if p.Status == StatusPending {
			delta = total
		}
		return Decision{
			Action:   ActionMerge,
			Prior:    &p,
			Quantity: total,
			SaleDate: date,
			Delta:    delta,
			Message:  fmt.Sprintf("order %s merged with %s, quantity now %d", candidate.OrderNumber, p.source(), total),
		}

	default:
		return reject(&p, fmt.Sprintf("order %s was already counted by %s", candidate.OrderNumber, p.source()))
	}
}

func reject(prior *Entry, msg string) Decision {
	return Decision{
		Action:  ActionReject,
		Prior:   prior,
		Err:     errutil.RowError(errutil.ReasonDuplicateOrder, msg),
		Message: msg,
	}
}

// Commit records the state after a decision was applied.
func (ix *Index) Commit(d Decision, candidate Entry, status string) {
	key := Key(candidate.OrderNumber)
	switch d.Action {
	case ActionAccept:
		e := candidate
		e.Status = status
		ix.entries[key] = &e
	case ActionOverwrite, ActionMerge:
		e := *d.Prior
		e.Quantity = d.Quantity
		e.SaleDate = d.SaleDate
		e.Status = status
		if d.Action == ActionOverwrite || e.RequirementID == "" {
			e.RequirementID = candidate.RequirementID
		}
		if d.Action == ActionOverwrite || e.UserID == "" {
			e.UserID = candidate.UserID
		}
		if candidate.SubmissionID != "" {
			e.SubmissionID = candidate.SubmissionID
		}
		ix.entries[key] = &e
	}
}
