package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/sequence"
	"incentive-controlplane/services/rule"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	repo     Repository
	logger   *zap.Logger
	node     *snowflake.Node
	sequence sequence.Generator
	validate *validator.Validate
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	Repository Repository
	Logger     *zap.Logger        `optional:"true"`
	Node       *snowflake.Node    `optional:"true"`
	Sequence   sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.Repository == nil {
		panic("campaign service requires repository dependency")
	}
	return &Service{
		repo:     p.Repository,
		logger:   logger,
		node:     p.Node,
		sequence: p.Sequence,
		validate: validator.New(),
		now:      time.Now,
	}
}

type ConditionInput struct {
	Field    rule.TargetField `json:"field" validate:"required"`
	Operator rule.Operator    `json:"operator" validate:"required"`
	Value    string           `json:"value"`
}

type RequirementInput struct {
	Description    string           `json:"description" validate:"required"`
	TargetQuantity int64            `json:"target_quantity" validate:"gte=1"`
	UnitType       UnitType         `json:"unit_type" validate:"omitempty,oneof=UNIT PAIR"`
	Conditions     []ConditionInput `json:"conditions" validate:"min=1,dive"`
}

type CreateCampaignInput struct {
	Title                   string             `json:"title" validate:"required,max=255"`
	Description             string             `json:"description"`
	StartDate               time.Time          `json:"start_date" validate:"required"`
	EndDate                 time.Time          `json:"end_date" validate:"required,gtfield=StartDate"`
	PointsOnCompletion      int64              `json:"points_on_completion" validate:"gte=0"`
	ManagerPointsPercentage decimal.Decimal    `json:"manager_points_percentage"`
	Requirements            []RequirementInput `json:"requirements" validate:"min=1,dive"`
	ScoringRules            []rule.ScoringRule `json:"scoring_rules"`
}

// CreateCampaign validates the definition, config-checks every condition and
// scoring rule, and stores the campaign as ACTIVE.
func (s *Service) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*Campaign, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.ValidationFailed("invalid campaign", err, errutil.WithDetails(validationDetails(err)...))
	}

	pct := in.ManagerPointsPercentage
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errutil.ValidationFailed("manager_points_percentage must be between 0 and 100", nil)
	}

	c := &Campaign{
		ID:                      gen.NextID(s.node),
		Title:                   strings.TrimSpace(in.Title),
		Description:             in.Description,
		StartDate:               in.StartDate.UTC(),
		EndDate:                 in.EndDate.UTC(),
		Status:                  CampaignStatusActive,
		PointsOnCompletion:      in.PointsOnCompletion,
		ManagerPointsPercentage: pct,
		ScoringRules:            in.ScoringRules,
	}

	for i, r := range in.Requirements {
		unit := r.UnitType
		if unit == "" {
			unit = UnitTypeUnit
		}
		req := GoalRequirement{
			ID:             gen.NextID(s.node),
			CampaignID:     c.ID,
			Position:       i,
			Description:    r.Description,
			TargetQuantity: r.TargetQuantity,
			UnitType:       unit,
		}
		for j, cond := range r.Conditions {
			req.Conditions = append(req.Conditions, rule.Condition{
				ID:                gen.NextID(s.node),
				GoalRequirementID: req.ID,
				Position:          j,
				Field:             cond.Field,
				Operator:          cond.Operator,
				Value:             cond.Value,
			})
		}
		c.Requirements = append(c.Requirements, req)
	}

	if err := CheckConfig(c); err != nil {
		return nil, err
	}

	if s.sequence != nil {
		code, err := s.sequence.NextCampaignCode(ctx)
		if err != nil {
			s.logger.Warn("failed to generate campaign code", zap.Error(err))
		} else {
			c.Code = code
		}
	}

	if err := s.repo.Create(ctx, c); err != nil {
		s.logger.Error("failed to create campaign", zap.Error(err))
		return nil, errutil.Internal("failed to create campaign", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.Int("requirements", len(c.Requirements)),
		zap.Int("scoring_rules", len(c.ScoringRules)))
	return c, nil
}

// CheckConfig reports a ConfigurationError for a campaign that cannot be evaluated.
func CheckConfig(c *Campaign) error {
	if !c.StartDate.Before(c.EndDate) {
		return errutil.ConfigurationError(errutil.ReasonInvalidRule, "campaign start date must be before end date")
	}
	if len(c.Requirements) == 0 {
		return errutil.ConfigurationError(errutil.ReasonInvalidRule, "campaign has no goal requirements")
	}
	for _, req := range c.Requirements {
		if req.TargetQuantity < 1 {
			return errutil.ConfigurationError(errutil.ReasonInvalidRule,
				fmt.Sprintf("requirement %q must target at least 1 unit", req.Description))
		}
		if len(req.Conditions) == 0 {
			return errutil.ConfigurationError(errutil.ReasonInvalidRule,
				fmt.Sprintf("requirement %q has no conditions", req.Description))
		}
		if err := rule.CheckConditions(req.Conditions); err != nil {
			return err
		}
	}
	return rule.CheckScoringRules(c.ScoringRules)
}

// GetCampaign returns the campaign with its goals.
func (s *Service) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.repo.FindCampaignWithGoals(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("campaign not found", err)
		}
		return nil, err
	}
	return c, nil
}

// GetActiveCampaign returns the campaign only when it accepts submissions.
func (s *Service) GetActiveCampaign(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != CampaignStatusActive {
		return nil, errutil.StateError(errutil.ReasonCampaignNotActive,
			fmt.Sprintf("campaign %q is %s", c.Title, c.Status))
	}
	return c, nil
}

func (s *Service) ListActive(ctx context.Context) ([]Campaign, error) {
	return s.repo.ListByStatus(ctx, CampaignStatusActive)
}

func (s *Service) Complete(ctx context.Context, id string) error {
	return s.transition(ctx, id, CampaignStatusCompleted)
}

func (s *Service) Expire(ctx context.Context, id string) error {
	return s.transition(ctx, id, CampaignStatusExpired)
}

func (s *Service) transition(ctx context.Context, id string, to CampaignStatus) error {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.CanTransition(to) {
		return errutil.StateError(errutil.ReasonInvalidStateTransition,
			fmt.Sprintf("campaign cannot move from %s to %s", c.Status, to))
	}

	if err := s.repo.TransitionStatus(ctx, id, CampaignStatusActive, to); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.StateError(errutil.ReasonInvalidStateTransition,
				fmt.Sprintf("campaign changed status concurrently, cannot move to %s", to))
		}
		return err
	}

	s.logger.Info("campaign status changed", zap.String("campaign_id", id), zap.String("status", string(to)))
	return nil
}

// ExpireOverdue expires every ACTIVE campaign whose window has closed.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := s.repo.ListOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range overdue {
		err := s.repo.TransitionStatus(ctx, c.ID, CampaignStatusActive, CampaignStatusExpired)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info("expired overdue campaigns", zap.Int("count", expired))
	}
	return expired, nil
}

func validationDetails(err error) []errutil.Detail {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errutil.Detail{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed on %s", fe.Tag()),
		})
	}
	return details
}
