package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/dedup"

	"gorm.io/gorm"
)

// Repository stores submissions. Methods that change status are conditional
// on the current status and return gorm.ErrRecordNotFound when it moved.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Create(ctx context.Context, s *CampaignSubmission) error
	// FindByID returns nil, nil when the submission does not exist.
	FindByID(ctx context.Context, id string) (*CampaignSubmission, error)
	TransitionStatus(ctx context.Context, id string, from, to SubmissionStatus, fields map[string]any) error
	// Supersede rewrites a submission that is still in status from.
	Supersede(ctx context.Context, id string, from SubmissionStatus, fields map[string]any) error
	// ListOrderIndex returns the duplicate index entries of a campaign,
	// restricted to orderKeys when any are given.
	ListOrderIndex(ctx context.Context, campaignID string, orderKeys ...string) ([]dedup.Entry, error)
	ListByCampaign(ctx context.Context, campaignID string, status SubmissionStatus) ([]CampaignSubmission, error)
	ListByJob(ctx context.Context, jobID string) ([]CampaignSubmission, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, s *CampaignSubmission) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	s.OrderKey = dedup.Key(s.OrderNumber)
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errutil.RowError(errutil.ReasonDuplicateOrder,
				fmt.Sprintf("order %s was already submitted for this campaign", s.OrderNumber), errutil.WithErr(err))
		}
		return err
	}
	return nil
}

func (r *gormRepository) FindByID(ctx context.Context, id string) (*CampaignSubmission, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var s CampaignSubmission
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) TransitionStatus(ctx context.Context, id string, from, to SubmissionStatus, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to
	return r.Supersede(ctx, id, from, updates)
}

func (r *gormRepository) Supersede(ctx context.Context, id string, from SubmissionStatus, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&CampaignSubmission{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) ListOrderIndex(ctx context.Context, campaignID string, orderKeys ...string) ([]dedup.Entry, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	q := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if len(orderKeys) > 0 {
		keys := make([]string, 0, len(orderKeys))
		for _, k := range orderKeys {
			keys = append(keys, dedup.Key(k))
		}
		q = q.Where("order_key IN ?", keys)
	}

	var rows []CampaignSubmission
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]dedup.Entry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].entry())
	}
	return out, nil
}

func (r *gormRepository) ListByCampaign(ctx context.Context, campaignID string, status SubmissionStatus) ([]CampaignSubmission, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	q := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var out []CampaignSubmission
	if err := q.Order("created_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) ListByJob(ctx context.Context, jobID string) ([]CampaignSubmission, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []CampaignSubmission
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
