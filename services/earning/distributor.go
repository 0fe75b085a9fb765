package earning

import (
	"context"
	"errors"
	"fmt"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/services/kit"
	"incentive-controlplane/services/seller"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var earningsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "earnings_created_total",
	Help: "Earnings created for completed kits, by type.",
}, []string{"type"})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{earningsCreated}
}

// Distributor creates the SELLER and MANAGER earnings of a completed kit.
// Calling it again for the same kit creates nothing new.
type Distributor struct {
	db      *gorm.DB
	sellers seller.Directory
	policy  SellerAmountPolicy
	node    *snowflake.Node
	logger  *zap.Logger
}

type DistributorParams struct {
	fx.In

	DB      *gorm.DB
	Sellers seller.Directory
	Policy  SellerAmountPolicy
	Node    *snowflake.Node `optional:"true"`
	Logger  *zap.Logger     `optional:"true"`
}

func NewDistributor(p DistributorParams) *Distributor {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{
		db:      p.DB,
		sellers: p.Sellers,
		policy:  p.Policy,
		node:    p.Node,
		logger:  logger,
	}
}

var _ kit.Distributor = (*Distributor)(nil)

// Distribute runs inside tx when given one, otherwise in its own transaction.
func (d *Distributor) Distribute(ctx context.Context, tx *gorm.DB, c kit.Completion) error {
	if c.Kit == nil || c.Campaign == nil {
		return errutil.BadRequest("completion requires kit and campaign", nil)
	}
	if !c.Kit.IsCompleted() {
		return errutil.StateError(errutil.ReasonInvalidStateTransition, "earnings are only created for completed kits")
	}
	if tx == nil {
		return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return d.distribute(ctx, tx, c)
		})
	}
	return d.distribute(ctx, tx, c)
}

func (d *Distributor) distribute(ctx context.Context, tx *gorm.DB, c kit.Completion) error {
	zapLog := d.logger.With(
		zap.String("kit_id", c.Kit.ID),
		zap.String("campaign_id", c.Campaign.ID),
		zap.String("user_id", c.Kit.UserID),
	)

	sellerLeg := d.policy.SellerLeg(c.Campaign, c.Kit)

	var owner *seller.Seller
	if d.sellers != nil {
		s, err := d.sellers.WithTrx(tx).FindByID(ctx, c.Kit.UserID)
		switch {
		case err == nil:
			owner = s
		case errutil.ReasonOf(err) == errutil.ReasonSellerNotFound:
			zapLog.Warn("kit owner is not a registered seller, skipping manager earning")
		default:
			return err
		}
	}

	created, err := d.createIfAbsent(ctx, tx, &Earning{
		ID:            gen.NextID(d.node),
		Type:          EarningTypeSeller,
		KitID:         c.Kit.ID,
		CampaignID:    c.Campaign.ID,
		BeneficiaryID: c.Kit.UserID,
		Points:        sellerLeg.Points,
		Amount:        sellerLeg.Amount,
		Status:        EarningStatusPending,
	})
	if err != nil {
		return fmt.Errorf("create seller earning: %w", err)
	}
	if created {
		zapLog.Info("seller earning created", zap.Int64("points", sellerLeg.Points), zap.String("amount", sellerLeg.Amount.StringFixed(2)))
	}

	if owner == nil || !owner.HasManager() {
		return nil
	}

	managerLeg := ManagerLeg(sellerLeg, c.Campaign.ManagerPointsPercentage)
	created, err = d.createIfAbsent(ctx, tx, &Earning{
		ID:            gen.NextID(d.node),
		Type:          EarningTypeManager,
		KitID:         c.Kit.ID,
		CampaignID:    c.Campaign.ID,
		BeneficiaryID: *owner.ManagerID,
		SellerName:    owner.Name,
		Points:        managerLeg.Points,
		Amount:        managerLeg.Amount,
		Status:        EarningStatusPending,
	})
	if err != nil {
		return fmt.Errorf("create manager earning: %w", err)
	}
	if created {
		zapLog.Info("manager earning created",
			zap.String("manager_id", *owner.ManagerID),
			zap.Int64("points", managerLeg.Points),
			zap.String("amount", managerLeg.Amount.StringFixed(2)))
	}
	return nil
}

// createIfAbsent inserts e unless (kit_id, type) exists and reports whether it wrote.
func (d *Distributor) createIfAbsent(ctx context.Context, tx *gorm.DB, e *Earning) (bool, error) {
	var existing Earning
	err := tx.WithContext(ctx).Where("kit_id = ? AND type = ?", e.KitID, e.Type).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kit_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	earningsCreated.WithLabelValues(string(e.Type)).Inc()
	return true, nil
}
