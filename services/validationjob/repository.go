package validationjob

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	Create(ctx context.Context, job *ValidationJob) error
	// FindByID returns nil, nil when the job does not exist.
	FindByID(ctx context.Context, id string, withResults bool) (*ValidationJob, error)
	// TransitionStatus moves from -> to with extra column updates; it returns
	// gorm.ErrRecordNotFound when the job is not in from.
	TransitionStatus(ctx context.Context, id string, from, to JobStatus, fields map[string]any) error
	// SaveProgress appends results and stores the running summary in one transaction.
	SaveProgress(ctx context.Context, id string, summary Summary, results []ValidationResultRow) error
	RequestCancel(ctx context.Context, id string) (bool, error)
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, job *ValidationJob) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(job).Error
}

func (r *gormRepository) FindByID(ctx context.Context, id string, withResults bool) (*ValidationJob, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	q := r.db.WithContext(ctx)
	if withResults {
		q = q.Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("line ASC")
		})
	}

	var job ValidationJob
	err := q.Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *gormRepository) TransitionStatus(ctx context.Context, id string, from, to JobStatus, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&ValidationJob{}).
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

func summaryColumns(s Summary) map[string]any {
	return map[string]any{
		"total_rows":         s.TotalRows,
		"processed_rows":     s.ProcessedRows,
		"validated_sales":    s.ValidatedSales,
		"errors":             s.Errors,
		"warnings":           s.Warnings,
		"skipped":            s.Skipped,
		"points_distributed": s.PointsDistributed,
		"kits_completed":     s.KitsCompleted,
	}
}

func (r *gormRepository) SaveProgress(ctx context.Context, id string, summary Summary, results []ValidationResultRow) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(results) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "job_id"}, {Name: "line"}},
				DoNothing: true,
			}).CreateInBatches(results, 200).Error
			if err != nil {
				return err
			}
		}

		updates := summaryColumns(summary)
		updates["updated_at"] = time.Now().UTC()
		return tx.Model(&ValidationJob{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (r *gormRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).
		Model(&ValidationJob{}).
		Where("id = ? AND status = ?", id, JobStatusProcessing).
		Updates(map[string]any{"cancel_requested": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	var job ValidationJob
	err := r.db.WithContext(ctx).Select("cancel_requested").Where("id = ?", id).Take(&job).Error
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}
