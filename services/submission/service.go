package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/keylock"
	"incentive-controlplane/pkg/rediskey"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/dedup"
	"incentive-controlplane/services/kit"
	"incentive-controlplane/services/normalize"
	"incentive-controlplane/services/rule"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	repo       Repository
	campaigns  *campaign.Service
	matcher    *campaign.Matcher
	normalizer *normalize.Normalizer
	tracker    *kit.Tracker
	locker     keylock.Locker
	node       *snowflake.Node
	logger     *zap.Logger
	validate   *validator.Validate
	graceDays  int
	now        func() time.Time
}

type ServiceParams struct {
	fx.In

	Repository Repository
	Campaigns  *campaign.Service
	Matcher    *campaign.Matcher
	Normalizer *normalize.Normalizer
	Tracker    *kit.Tracker
	Locker     keylock.Locker
	Config     *config.Config  `optional:"true"`
	Node       *snowflake.Node `optional:"true"`
	Logger     *zap.Logger     `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	graceDays := 0
	if p.Config != nil && p.Config.Engine.GracePeriodDays > 0 {
		graceDays = p.Config.Engine.GracePeriodDays
	}
	return &Service{
		repo:       p.Repository,
		campaigns:  p.Campaigns,
		matcher:    p.Matcher,
		normalizer: p.Normalizer,
		tracker:    p.Tracker,
		locker:     p.Locker,
		node:       p.Node,
		logger:     logger,
		validate:   validator.New(),
		graceDays:  graceDays,
		now:        time.Now,
	}
}

type SubmitInput struct {
	CampaignID string      `json:"campaign_id" validate:"required"`
	UserID     string      `json:"user_id" validate:"required"`
	Record     rule.Record `json:"record"`
}

type ValidateInput struct {
	SubmissionID string   `json:"submission_id" validate:"required"`
	Decision     Decision `json:"decision" validate:"required,oneof=VALIDATED REJECTED"`
	Message      string   `json:"message"`
	ValidatedBy  string   `json:"validated_by"`
}

// Result is a submission after a decision, with the kit it moved when validated.
type Result struct {
	Submission *CampaignSubmission
	Outcome    *kit.Outcome
}

// CheckWindow accepts sale days in [StartDate-graceDays, EndDate) and reports
// whether the grace period was needed.
func CheckWindow(c *campaign.Campaign, saleDate time.Time, graceDays int) (bool, error) {
	w := c.CheckSaleDate(saleDate, graceDays)
	if !w.Accepted {
		return false, errutil.RowError(errutil.ReasonOutOfCampaignWindow,
			fmt.Sprintf("sale date %s is outside campaign %q, which runs from %s until %s (grace period %d days)",
				saleDate.Format("2006-01-02"), c.Title,
				c.StartDate.UTC().Format("2006-01-02"), c.EndDate.UTC().Format("2006-01-02"), graceDays))
	}
	return w.ViaGrace, nil
}

// GraceWarning explains a sale accepted only because of the grace period.
func GraceWarning(saleDate time.Time, graceDays int) string {
	return fmt.Sprintf("sale date %s predates the campaign start and was accepted under the %d day grace period",
		saleDate.Format("2006-01-02"), graceDays)
}

// Submit records a PENDING sale after the format, window, goal and duplicate
// checks. A failed check is returned as a RowError and nothing is stored.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*CampaignSubmission, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.ValidationFailed("invalid submission", err)
	}

	c, err := s.campaigns.GetActiveCampaign(ctx, in.CampaignID)
	if err != nil {
		return nil, err
	}

	sale, err := s.normalizer.Normalize(in.Record, normalize.Options{})
	if err != nil {
		return nil, err
	}
	if _, err := CheckWindow(c, sale.SaleDate, s.graceDays); err != nil {
		return nil, err
	}
	match, err := s.matcher.Match(c, sale.Record)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, rediskey.BuildCampaignLockKey(c.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries, err := s.repo.ListOrderIndex(ctx, c.ID, sale.OrderNumber)
	if err != nil {
		return nil, err
	}
	candidate := dedup.Entry{
		OrderNumber:   sale.OrderNumber,
		RequirementID: match.Requirement.ID,
		UserID:        in.UserID,
		Quantity:      sale.Quantity,
		SaleDate:      sale.SaleDate,
	}
	if d := dedup.NewIndex(entries...).Resolve(dedup.StrategyRejectRow, candidate); d.Err != nil {
		return nil, d.Err
	}

	sub := s.newSubmission(c, in.UserID, match.Requirement, sale, SourceManual)
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("submission created",
		zap.String("submission_id", sub.ID),
		zap.String("campaign_id", c.ID),
		zap.String("user_id", in.UserID),
		zap.String("order_number", sub.OrderNumber),
		zap.String("requirement_id", sub.RequirementID))
	return sub, nil
}

// Validate decides a PENDING submission. VALIDATED moves the user's kit in
// the same transaction as the status change; REJECTED changes nothing else.
func (s *Service) Validate(ctx context.Context, in ValidateInput) (*Result, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.ValidationFailed("invalid decision", err)
	}

	sub, err := s.GetSubmission(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsPending() {
		return nil, errutil.StateError(errutil.ReasonInvalidStateTransition,
			fmt.Sprintf("submission %s is already %s", sub.OrderNumber, sub.Status))
	}

	now := s.now().UTC()
	fields := map[string]any{
		"validated_by":     in.ValidatedBy,
		"decision_message": in.Message,
		"decided_at":       now,
	}

	if in.Decision == DecisionRejected {
		if err := s.repo.TransitionStatus(ctx, sub.ID, SubmissionStatusPending, SubmissionStatusRejected, fields); err != nil {
			return nil, s.transitionError(sub, err)
		}
		s.logger.Info("submission rejected", zap.String("submission_id", sub.ID), zap.String("validated_by", in.ValidatedBy))
		return s.reload(ctx, sub.ID, nil)
	}

	c, err := s.campaigns.GetActiveCampaign(ctx, sub.CampaignID)
	if err != nil {
		return nil, err
	}

	out, err := s.tracker.ApplyValidatedSubmission(ctx, kit.Contribution{
		Campaign:      c,
		UserID:        sub.UserID,
		RequirementID: sub.RequirementID,
		Quantity:      sub.Quantity,
		Within: func(tx *gorm.DB, k *kit.CampaignKit) error {
			fields["kit_id"] = k.ID
			err := s.repo.WithTrx(tx).TransitionStatus(ctx, sub.ID, SubmissionStatusPending, SubmissionStatusValidated, fields)
			if err != nil {
				return s.transitionError(sub, err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("submission validated",
		zap.String("submission_id", sub.ID),
		zap.String("kit_id", out.Kit.ID),
		zap.Bool("kit_completed", out.Completed),
		zap.String("validated_by", in.ValidatedBy))
	return s.reload(ctx, sub.ID, out)
}

type IngestInput struct {
	Campaign    *campaign.Campaign
	UserID      string
	Requirement *campaign.GoalRequirement
	Sale        *normalize.Sale
	Decision    dedup.Decision
	JobID       string
	ValidatedBy string
}

// Ingest stores a bulk row as a VALIDATED submission and applies Decision.Delta
// to the kit in one transaction. The caller holds the campaign lock and has
// already resolved duplicates.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*Result, error) {
	if in.Campaign == nil || in.Requirement == nil || in.Sale == nil {
		return nil, errutil.BadRequest("ingest requires campaign, requirement and sale", nil)
	}

	now := s.now().UTC()
	var jobID *string
	if in.JobID != "" {
		jobID = &in.JobID
	}

	var (
		id     string
		within func(tx *gorm.DB, k *kit.CampaignKit) error
	)
	switch in.Decision.Action {
	case dedup.ActionAccept:
		sub := s.newSubmission(in.Campaign, in.UserID, in.Requirement, in.Sale, SourceBulk)
		sub.JobID = jobID
		sub.ValidatedBy = in.ValidatedBy
		sub.DecidedAt = &now
		id = sub.ID
		within = func(tx *gorm.DB, k *kit.CampaignKit) error {
			row := *sub
			row.Status = SubmissionStatusValidated
			row.KitID = &k.ID
			return s.repo.WithTrx(tx).Create(ctx, &row)
		}

	case dedup.ActionOverwrite, dedup.ActionMerge:
		prior := in.Decision.Prior
		if prior == nil || prior.SubmissionID == "" {
			return nil, fmt.Errorf("ingest: %s without a stored prior submission", in.Decision.Action)
		}
		id = prior.SubmissionID
		fields := map[string]any{
			"quantity":     in.Decision.Quantity,
			"sale_date":    in.Decision.SaleDate,
			"status":       SubmissionStatusValidated,
			"validated_by": in.ValidatedBy,
			"decided_at":   now,
			"job_id":       jobID,
		}
		if in.Decision.Action == dedup.ActionOverwrite {
			fields["user_id"] = in.UserID
			fields["requirement_id"] = in.Requirement.ID
			fields["sale_value"] = in.Sale.SaleValue
			fields["snapshot"] = datatypes.NewJSONType(in.Sale.Record)
			fields["source"] = SourceBulk
		}
		from := SubmissionStatus(prior.Status)
		within = func(tx *gorm.DB, k *kit.CampaignKit) error {
			fields["kit_id"] = k.ID
			err := s.repo.WithTrx(tx).Supersede(ctx, prior.SubmissionID, from, fields)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.StateError(errutil.ReasonInvalidStateTransition,
					fmt.Sprintf("order %s changed while the row was applied", prior.OrderNumber))
			}
			return err
		}

	default:
		return nil, fmt.Errorf("ingest: unsupported duplicate action %s", in.Decision.Action)
	}

	out, err := s.tracker.ApplyValidatedSubmission(ctx, kit.Contribution{
		Campaign:      in.Campaign,
		UserID:        in.UserID,
		RequirementID: in.Requirement.ID,
		Quantity:      in.Decision.Delta,
		Within:        within,
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, id, out)
}

func (s *Service) GetSubmission(ctx context.Context, id string) (*CampaignSubmission, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", gorm.ErrRecordNotFound)
	}
	return sub, nil
}

func (s *Service) ListByCampaign(ctx context.Context, campaignID string, status SubmissionStatus) ([]CampaignSubmission, error) {
	return s.repo.ListByCampaign(ctx, campaignID, status)
}

// OrderIndex returns the duplicate index entries stored for orderKeys.
func (s *Service) OrderIndex(ctx context.Context, campaignID string, orderKeys ...string) ([]dedup.Entry, error) {
	return s.repo.ListOrderIndex(ctx, campaignID, orderKeys...)
}

func (s *Service) newSubmission(c *campaign.Campaign, userID string, req *campaign.GoalRequirement, sale *normalize.Sale, source Source) *CampaignSubmission {
	return &CampaignSubmission{
		ID:            gen.NextID(s.node),
		CampaignID:    c.ID,
		OrderNumber:   sale.OrderNumber,
		UserID:        userID,
		RequirementID: req.ID,
		Quantity:      sale.Quantity,
		SaleDate:      sale.SaleDate,
		SaleValue:     sale.SaleValue,
		Status:        SubmissionStatusPending,
		Source:        source,
		Snapshot:      datatypes.NewJSONType(sale.Record),
	}
}

func (s *Service) reload(ctx context.Context, id string, out *kit.Outcome) (*Result, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Submission: sub, Outcome: out}, nil
}

func (s *Service) transitionError(sub *CampaignSubmission, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errutil.StateError(errutil.ReasonInvalidStateTransition,
			fmt.Sprintf("submission %s was decided concurrently", sub.OrderNumber))
	}
	return err
}
