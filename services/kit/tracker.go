package kit

import (
	"context"
	"fmt"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/keylock"
	"incentive-controlplane/pkg/rediskey"
	"incentive-controlplane/services/campaign"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	kitCompletions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kit_completions_total",
		Help: "Kits that reached every goal requirement.",
	})
	kitConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kit_progress_conflicts_total",
		Help: "Kit progress updates retried after losing a concurrent race.",
	})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{kitCompletions, kitConflicts}
}

// Completion is handed to the Distributor when a kit reaches every goal.
type Completion struct {
	Kit      *CampaignKit
	Campaign *campaign.Campaign
}

// Distributor creates payouts for a completed kit. It runs inside the
// transaction that completed the kit.
type Distributor interface {
	Distribute(ctx context.Context, tx *gorm.DB, c Completion) error
}

// Contribution is one validated sale counted toward a kit.
type Contribution struct {
	Campaign      *campaign.Campaign
	UserID        string
	RequirementID string
	Quantity      int64
	// Within runs in the progress transaction after the kit is resolved and
	// before the counter moves; an error rolls everything back.
	Within func(tx *gorm.DB, kit *CampaignKit) error
}

type Outcome struct {
	Kit       *CampaignKit
	Completed bool
}

// Tracker applies validated sales to kits. Updates for one (campaign, user)
// are serialized by a key lock, and the version check on the kit row turns a
// lost race into a retry.
type Tracker struct {
	db          *gorm.DB
	repo        Repository
	locker      keylock.Locker
	distributor Distributor
	node        *snowflake.Node
	logger      *zap.Logger
	retries     uint64
}

type TrackerParams struct {
	fx.In

	DB          *gorm.DB
	Repository  Repository
	Locker      keylock.Locker
	Distributor Distributor
	Config      *config.Config  `optional:"true"`
	Node        *snowflake.Node `optional:"true"`
	Logger      *zap.Logger     `optional:"true"`
}

func NewTracker(p TrackerParams) *Tracker {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := uint64(5)
	if p.Config != nil && p.Config.Engine.ConflictRetries > 0 {
		retries = p.Config.Engine.ConflictRetries
	}
	return &Tracker{
		db:          p.DB,
		repo:        p.Repository,
		locker:      p.Locker,
		distributor: p.Distributor,
		node:        p.Node,
		logger:      logger,
		retries:     retries,
	}
}

// ApplyValidatedSubmission counts c.Quantity toward the requirement, creating
// the kit on first use. The kit completes, and the distributor runs, at most
// once.
func (t *Tracker) ApplyValidatedSubmission(ctx context.Context, c Contribution) (*Outcome, error) {
	if c.Campaign == nil || c.UserID == "" {
		return nil, errutil.BadRequest("campaign and user are required to apply progress", nil)
	}
	if c.Campaign.Requirement(c.RequirementID) == nil {
		return nil, errutil.NotFound(fmt.Sprintf("requirement %s is not part of campaign %q", c.RequirementID, c.Campaign.Title), nil)
	}
	if c.Quantity <= 0 {
		return nil, errutil.ValidationFailed("quantity must be positive", nil)
	}

	unlock, err := t.locker.Lock(ctx, rediskey.BuildKitLockKey(c.Campaign.ID, c.UserID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *Outcome
	op := func() error {
		o, err := t.apply(ctx, c)
		if err == nil {
			out = o
			return nil
		}
		if errutil.IsKind(err, errutil.KindConflict) {
			kitConflicts.Inc()
			t.logger.Debug("kit progress conflict, retrying",
				zap.String("campaign_id", c.Campaign.ID),
				zap.String("user_id", c.UserID),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, t.retries), ctx)); err != nil {
		return nil, err
	}

	if out.Completed {
		kitCompletions.Inc()
		t.logger.Info("kit completed",
			zap.String("kit_id", out.Kit.ID),
			zap.String("campaign_id", c.Campaign.ID),
			zap.String("user_id", c.UserID))
	}
	return out, nil
}

func (t *Tracker) apply(ctx context.Context, c Contribution) (*Outcome, error) {
	var out Outcome
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := t.repo.WithTrx(tx)

		k, err := repo.FindOrCreateKit(ctx, c.Campaign, c.UserID, func() string { return gen.NextID(t.node) })
		if err != nil {
			return err
		}
		if k.IsCompleted() {
			return alreadyCompleted(k)
		}

		if c.Within != nil {
			if err := c.Within(tx, k); err != nil {
				return err
			}
		}

		completed, err := repo.IncrementProgress(ctx, k.ID, c.RequirementID, c.Quantity)
		if err != nil {
			return err
		}

		k, err = repo.FindKit(ctx, c.Campaign.ID, c.UserID)
		if err != nil {
			return err
		}
		if completed && t.distributor != nil {
			if err := t.distributor.Distribute(ctx, tx, Completion{Kit: k, Campaign: c.Campaign}); err != nil {
				return err
			}
		}

		out = Outcome{Kit: k, Completed: completed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
