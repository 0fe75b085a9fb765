package campaign

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository describes database operations available for campaigns.
type Repository interface {
	Create(ctx context.Context, c *Campaign) error
	// FindCampaignWithGoals loads a campaign with requirements and conditions in definition order.
	FindCampaignWithGoals(ctx context.Context, id string) (*Campaign, error)
	ListByStatus(ctx context.Context, status CampaignStatus) ([]Campaign, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Campaign, error)
	// TransitionStatus moves from -> to atomically; it returns gorm.ErrRecordNotFound
	// when the campaign is missing or not in from.
	TransitionStatus(ctx context.Context, id string, from, to CampaignStatus) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, c *Campaign) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Create(c).Error
}

func preloadGoals(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Requirements", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC").Order("id ASC")
		}).
		Preload("Requirements.Conditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC").Order("id ASC")
		})
}

func (r *gormRepository) FindCampaignWithGoals(ctx context.Context, id string) (*Campaign, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var c Campaign
	err := r.db.WithContext(ctx).
		Scopes(preloadGoals).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) ListByStatus(ctx context.Context, status CampaignStatus) ([]Campaign, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []Campaign
	err := r.db.WithContext(ctx).
		Scopes(preloadGoals).
		Where("status = ?", status).
		Order("start_date ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) ListOverdue(ctx context.Context, now time.Time) ([]Campaign, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []Campaign
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_date <= ?", CampaignStatusActive, now).
		Order("end_date ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) TransitionStatus(ctx context.Context, id string, from, to CampaignStatus) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
