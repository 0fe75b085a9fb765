package campaign

import (
	"context"
	"testing"
	"time"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/rule"
	"incentive-controlplane/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Campaign{}, &GoalRequirement{}, &rule.Condition{})
	return NewService(ServiceParams{Repository: NewRepository(db)})
}

func kitAInput() CreateCampaignInput {
	return CreateCampaignInput{
		Title:                   "Kit A",
		StartDate:               time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:                 time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		PointsOnCompletion:      500,
		ManagerPointsPercentage: decimal.NewFromInt(10),
		Requirements: []RequirementInput{
			{Description: "Super-foco", TargetQuantity: 2, Conditions: []ConditionInput{
				{Field: rule.FieldProductName, Operator: rule.OpContains, Value: "Super-foco"},
			}},
			{Description: "Normal", TargetQuantity: 1, UnitType: UnitTypePair, Conditions: []ConditionInput{
				{Field: rule.FieldProductName, Operator: rule.OpContains, Value: "Normal"},
			}},
		},
		ScoringRules: []rule.ScoringRule{
			{ID: "bonus", Name: "High ticket", Condition: &rule.Condition{Field: rule.FieldSaleValue, Operator: rule.OpGreaterThan, Value: "1000"}, Points: 20},
		},
	}
}

func TestCreateCampaign_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	created, err := svc.CreateCampaign(ctx, kitAInput())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, CampaignStatusActive, created.Status)

	got, err := svc.GetCampaign(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Kit A", got.Title)
	require.Equal(t, int64(500), got.PointsOnCompletion)
	require.True(t, decimal.NewFromInt(10).Equal(got.ManagerPointsPercentage))
	require.Len(t, got.Requirements, 2)
	require.Equal(t, "Super-foco", got.Requirements[0].Description)
	require.Equal(t, UnitTypeUnit, got.Requirements[0].UnitType)
	require.Equal(t, UnitTypePair, got.Requirements[1].UnitType)
	require.Len(t, got.Requirements[0].Conditions, 1)
	require.Equal(t, rule.OpContains, got.Requirements[0].Conditions[0].Operator)
	require.Len(t, got.ScoringRules, 1)
	require.Equal(t, int64(20), got.ScoringRules[0].Points)
}

func TestCreateCampaign_Rejects(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	in := kitAInput()
	in.EndDate = in.StartDate
	_, err := svc.CreateCampaign(ctx, in)
	require.Error(t, err)

	in = kitAInput()
	in.ManagerPointsPercentage = decimal.NewFromInt(120)
	_, err = svc.CreateCampaign(ctx, in)
	require.Error(t, err)

	in = kitAInput()
	in.Requirements[0].Conditions[0] = ConditionInput{Field: rule.FieldOrderNumber, Operator: rule.OpRegex, Value: "(["}
	_, err = svc.CreateCampaign(ctx, in)
	require.True(t, errutil.IsKind(err, errutil.KindConfiguration))
	require.Equal(t, errutil.ReasonInvalidRule, errutil.ReasonOf(err))

	in = kitAInput()
	in.ScoringRules = []rule.ScoringRule{{ID: "broken", Expression: "quantity +", Points: 1}}
	_, err = svc.CreateCampaign(ctx, in)
	require.True(t, errutil.IsKind(err, errutil.KindConfiguration))
}

func TestGetCampaign_NotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetCampaign(context.Background(), "missing")
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}

func TestCampaignTransitions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	c, err := svc.CreateCampaign(ctx, kitAInput())
	require.NoError(t, err)

	require.NoError(t, svc.Complete(ctx, c.ID))

	err = svc.Expire(ctx, c.ID)
	require.Equal(t, errutil.ReasonInvalidStateTransition, errutil.ReasonOf(err))

	_, err = svc.GetActiveCampaign(ctx, c.ID)
	require.Equal(t, errutil.ReasonCampaignNotActive, errutil.ReasonOf(err))

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestExpireOverdue(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	past := kitAInput()
	past.Title = "Past"
	past.StartDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past.EndDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	old, err := svc.CreateCampaign(ctx, past)
	require.NoError(t, err)

	current, err := svc.CreateCampaign(ctx, kitAInput())
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) }

	n, err := svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := svc.GetCampaign(ctx, old.ID)
	require.NoError(t, err)
	require.Equal(t, CampaignStatusExpired, got.Status)

	got, err = svc.GetCampaign(ctx, current.ID)
	require.NoError(t, err)
	require.Equal(t, CampaignStatusActive, got.Status)

	n, err = svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
