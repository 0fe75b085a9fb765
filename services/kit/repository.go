package kit

import (
	"context"
	"errors"
	"time"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/campaign"

	"gorm.io/gorm"
)

// Repository stores kits and their counters. IncrementProgress is atomic per
// kit when run inside a transaction.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	// FindKit returns nil, nil when the user has no kit in the campaign.
	FindKit(ctx context.Context, campaignID, userID string) (*CampaignKit, error)
	FindOrCreateKit(ctx context.Context, c *campaign.Campaign, userID string, newID func() string) (*CampaignKit, error)
	// IncrementProgress adds qty to one counter, capped at its target, and
	// reports whether the kit just completed.
	IncrementProgress(ctx context.Context, kitID, requirementID string, qty int64) (bool, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]CampaignKit, error)
}

type gormRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db, now: time.Now}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx, now: r.now}
}

func (r *gormRepository) FindKit(ctx context.Context, campaignID, userID string) (*CampaignKit, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var k CampaignKit
	err := r.db.WithContext(ctx).
		Preload("Progress").
		Where("campaign_id = ? AND user_id = ?", campaignID, userID).
		Take(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *gormRepository) FindOrCreateKit(ctx context.Context, c *campaign.Campaign, userID string, newID func() string) (*CampaignKit, error) {
	k, err := r.FindKit(ctx, c.ID, userID)
	if err != nil || k != nil {
		return k, err
	}

	k = newKit(newID(), c, userID)
	if err := r.db.WithContext(ctx).Create(k).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.ConcurrencyConflict("kit was created concurrently", errutil.WithErr(err))
		}
		return nil, err
	}
	return k, nil
}

func (r *gormRepository) IncrementProgress(ctx context.Context, kitID, requirementID string, qty int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}
	db := r.db.WithContext(ctx)

	var k CampaignKit
	if err := db.Where("id = ?", kitID).Take(&k).Error; err != nil {
		return false, err
	}
	if k.IsCompleted() {
		return false, alreadyCompleted(&k)
	}

	res := db.Model(&KitProgress{}).
		Where("kit_id = ? AND requirement_id = ?", kitID, requirementID).
		Update("fulfilled", gorm.Expr("CASE WHEN fulfilled + ? > target THEN target ELSE fulfilled + ? END", qty, qty))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, errutil.NotFound("requirement is not part of this kit", gorm.ErrRecordNotFound)
	}

	var remaining int64
	if err := db.Model(&KitProgress{}).
		Where("kit_id = ? AND fulfilled < target", kitID).
		Count(&remaining).Error; err != nil {
		return false, err
	}

	now := r.now().UTC()
	updates := map[string]any{
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
	completed := remaining == 0
	if completed {
		updates["status"] = KitStatusCompleted
		updates["completed_at"] = now
	}

	res = db.Model(&CampaignKit{}).
		Where("id = ? AND version = ? AND status = ?", kitID, k.Version, KitStatusInProgress).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, errutil.ConcurrencyConflict("kit changed while applying progress")
	}
	return completed, nil
}

func (r *gormRepository) ListByCampaign(ctx context.Context, campaignID string) ([]CampaignKit, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []CampaignKit
	err := r.db.WithContext(ctx).
		Preload("Progress").
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
