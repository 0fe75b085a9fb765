package campaign

import (
	"testing"
	"time"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/rule"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func kitA() *Campaign {
	return &Campaign{
		ID:        "c-1",
		Title:     "Kit A",
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:    CampaignStatusActive,
		Requirements: []GoalRequirement{
			// deliberately stored out of order
			{ID: "req-normal", Position: 1, Description: "Normal", TargetQuantity: 1, UnitType: UnitTypeUnit,
				Conditions: []rule.Condition{{Field: rule.FieldProductName, Operator: rule.OpContains, Value: "Normal"}}},
			{ID: "req-super", Position: 0, Description: "Super-foco", TargetQuantity: 2, UnitType: UnitTypeUnit,
				Conditions: []rule.Condition{{Field: rule.FieldProductName, Operator: rule.OpContains, Value: "Super-foco"}}},
		},
	}
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	m := NewMatcher(rule.NewEvaluator())
	c := kitA()

	match, err := m.Match(c, rule.Record{ProductName: "Lente Super-foco Normal"})
	require.NoError(t, err)
	require.Equal(t, "req-super", match.Requirement.ID)

	match, err = m.Match(c, rule.Record{ProductName: "lente normal"})
	require.NoError(t, err)
	require.Equal(t, "req-normal", match.Requirement.ID)

	require.Equal(t, "req-normal", c.Requirements[0].ID, "matching must not reorder the campaign")
}

func TestMatcher_NoMatch(t *testing.T) {
	m := NewMatcher(nil)

	_, err := m.Match(kitA(), rule.Record{ProductName: "Armação"})
	require.Error(t, err)
	require.Equal(t, errutil.KindRow, errutil.KindOf(err))
	require.Equal(t, errutil.ReasonNoMatchingRequirement, errutil.ReasonOf(err))
	require.Contains(t, errutil.MessageOf(err), `"Armação"`)
	require.Contains(t, errutil.MessageOf(err), `"Kit A"`)
}

func TestMatcher_AllConditionsMustHold(t *testing.T) {
	c := kitA()
	c.Requirements[1].Conditions = append(c.Requirements[1].Conditions,
		rule.Condition{Field: rule.FieldQuantity, Operator: rule.OpGreaterEqual, Value: "2"})

	m := NewMatcher(nil)
	_, err := m.Match(c, rule.Record{ProductName: "Super-foco", Quantity: "1"})
	require.Error(t, err)

	match, err := m.Match(c, rule.Record{ProductName: "Super-foco", Quantity: "2"})
	require.NoError(t, err)
	require.Equal(t, "req-super", match.Requirement.ID)
}

func TestMatcher_Pure(t *testing.T) {
	m := NewMatcher(nil)
	c := kitA()
	rec := rule.Record{ProductName: "Super-foco 1.67", SaleValue: "R$ 900,00"}

	first, err := m.Match(c, rec)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := m.Match(c, rec)
		require.NoError(t, err)
		require.Equal(t, first.Requirement.ID, again.Requirement.ID)
		require.Equal(t, first.Warnings, again.Warnings)
	}
}

func TestCheckSaleDate(t *testing.T) {
	c := kitA()

	tests := []struct {
		name     string
		date     time.Time
		grace    int
		accepted bool
		viaGrace bool
	}{
		{"first day", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 0, true, false},
		{"last day", time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC), 0, true, false},
		{"end is exclusive", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 5, false, false},
		{"before start without grace", time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), 0, false, false},
		{"inside grace", time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC), 3, true, true},
		{"grace boundary", time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC), 3, true, true},
		{"beyond grace", time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC), 3, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := c.CheckSaleDate(tc.date, tc.grace)
			require.Equal(t, tc.accepted, got.Accepted)
			require.Equal(t, tc.viaGrace, got.ViaGrace)
		})
	}
}

func TestCampaignStatusTransitions(t *testing.T) {
	require.True(t, CampaignStatusActive.CanTransition(CampaignStatusCompleted))
	require.True(t, CampaignStatusActive.CanTransition(CampaignStatusExpired))
	require.False(t, CampaignStatusCompleted.CanTransition(CampaignStatusActive))
	require.False(t, CampaignStatusExpired.CanTransition(CampaignStatusCompleted))
	require.False(t, CampaignStatusActive.CanTransition(CampaignStatusActive))
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC), nextRunTime(now, 1, 0))

	now = time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC), nextRunTime(now, 1, 0))
}
