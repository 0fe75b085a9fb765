package earning

import (
	"context"
	"fmt"
	"time"

	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	store  repository.Repository[Earning]
	logger *zap.Logger
	now    func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Logger *zap.Logger `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     p.DB,
		store:  repository.ProvideStore[Earning](p.DB),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) ListByKit(ctx context.Context, kitID string) ([]*Earning, error) {
	return s.store.Find(ctx, &Earning{KitID: kitID}, option.WithSortBy(option.QuerySortBy{SortBy: "type"}))
}

func (s *Service) ListByBeneficiary(ctx context.Context, beneficiaryID string) ([]*Earning, error) {
	return s.store.Find(ctx, &Earning{BeneficiaryID: beneficiaryID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "DESC"}))
}

// MarkPaid settles a PENDING earning. Paying twice is a state error.
func (s *Service) MarkPaid(ctx context.Context, id string) (*Earning, error) {
	e, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != EarningStatusPending {
		return nil, errutil.StateError(errutil.ReasonInvalidStateTransition,
			fmt.Sprintf("earning is %s, only PENDING earnings can be paid", e.Status))
	}

	now := s.now().UTC()
	res := s.db.WithContext(ctx).
		Model(&Earning{}).
		Where("id = ? AND status = ?", id, EarningStatusPending).
		Updates(map[string]any{"status": EarningStatusPaid, "paid_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errutil.StateError(errutil.ReasonInvalidStateTransition, "earning was settled concurrently")
	}

	s.logger.Info("earning paid", zap.String("earning_id", id), zap.String("type", string(e.Type)))
	e.Status = EarningStatusPaid
	e.PaidAt = &now
	return e, nil
}

func (s *Service) get(ctx context.Context, id string) (*Earning, error) {
	e, err := s.store.FindOne(ctx, &Earning{ID: id})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errutil.NotFound("earning not found", gorm.ErrRecordNotFound)
	}
	return e, nil
}
