package validationjob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/sequence"
	"incentive-controlplane/pkg/sheet"
	"incentive-controlplane/pkg/task"
	"incentive-controlplane/pkg/taskname"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/dedup"
	"incentive-controlplane/services/normalize"
	"incentive-controlplane/services/rule"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SourceArchive keeps the uploaded file a job was created from.
type SourceArchive interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
}

type Service struct {
	repo      Repository
	processor *Processor
	campaigns *campaign.Service
	enqueuer  task.Enqueuer
	sequence  sequence.Generator
	archive   SourceArchive
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time

	defaultStrategy dedup.Strategy
	graceDays       int
	queue           string
	maxRetry        int
}

type ServiceParams struct {
	fx.In

	Repository Repository
	Processor  *Processor
	Campaigns  *campaign.Service
	Enqueuer   task.Enqueuer      `optional:"true"`
	Sequence   sequence.Generator `optional:"true"`
	Archive    SourceArchive      `optional:"true"`
	Config     *config.Config     `optional:"true"`
	Logger     *zap.Logger        `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:            p.Repository,
		processor:       p.Processor,
		campaigns:       p.Campaigns,
		enqueuer:        p.Enqueuer,
		sequence:        p.Sequence,
		archive:         p.Archive,
		logger:          logger,
		validate:        validator.New(),
		now:             time.Now,
		defaultStrategy: dedup.StrategyRejectRow,
		queue:           "default",
		maxRetry:        3,
	}
	if cfg := p.Config; cfg != nil {
		if st, err := dedup.ParseStrategy(cfg.Engine.DefaultStrategy); err == nil {
			s.defaultStrategy = st
		}
		if cfg.Engine.GracePeriodDays > 0 {
			s.graceDays = cfg.Engine.GracePeriodDays
		}
		if cfg.Engine.AsyncJobQueue != "" {
			s.queue = cfg.Engine.AsyncJobQueue
		}
		if cfg.Engine.AsyncJobMaxRetry > 0 {
			s.maxRetry = cfg.Engine.AsyncJobMaxRetry
		}
	}
	return s
}

// CreateJobInput describes an upload. ColumnMapping maps source headers to
// target field names; when empty, rows are already keyed by field name.
type CreateJobInput struct {
	FileName          string              `json:"file_name"`
	CampaignID        string              `json:"campaign_id"`
	IsDryRun          bool                `json:"is_dry_run"`
	ColumnMapping     map[string]string   `json:"column_mapping"`
	DuplicateStrategy string              `json:"duplicate_strategy"`
	GracePeriodDays   *int                `json:"grace_period_days"`
	SaleValueMin      string              `json:"sale_value_min"`
	SaleValueMax      string              `json:"sale_value_max"`
	CampaignRules     []rule.ScoringRule  `json:"campaign_rules"`
	CustomRules       []rule.ScoringRule  `json:"custom_rules"`
	Rows              []map[string]string `json:"rows" validate:"required,min=1"`
	CreatedBy         string              `json:"created_by"`
}

// CreateJob stores a PENDING job. Configuration is checked when the job runs,
// so a bad mapping or rule ends the job FAILED with its reason on record.
func (s *Service) CreateJob(ctx context.Context, in CreateJobInput) (*ValidationJob, error) {
	return s.createJob(ctx, in, "")
}

func (s *Service) createJob(ctx context.Context, in CreateJobInput, sourceKey string) (*ValidationJob, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, errutil.ValidationFailed("invalid validation job", err)
	}

	limits, err := normalize.ParseLimits(in.SaleValueMin, in.SaleValueMax)
	if err != nil {
		if errutil.KindOf(err) != "" {
			return nil, err
		}
		return nil, errutil.ConfigurationError(errutil.ReasonInvalidRule, err.Error())
	}

	job := &ValidationJob{
		ID:                uuid.NewString(),
		FileName:          in.FileName,
		SourceKey:         sourceKey,
		IsDryRun:          in.IsDryRun,
		DuplicateStrategy: strings.ToUpper(strings.TrimSpace(in.DuplicateStrategy)),
		GracePeriodDays:   s.graceDays,
		CustomRules:       in.CustomRules,
		Status:            JobStatusPending,
		CreatedBy:         in.CreatedBy,
		Summary:           Summary{TotalRows: len(in.Rows)},
	}
	if job.DuplicateStrategy == "" {
		job.DuplicateStrategy = string(s.defaultStrategy)
	}
	if in.GracePeriodDays != nil {
		job.GracePeriodDays = *in.GracePeriodDays
	}
	if limits.Min != nil {
		job.SaleValueMin = decimal.NewNullDecimal(*limits.Min)
	}
	if limits.Max != nil {
		job.SaleValueMax = decimal.NewNullDecimal(*limits.Max)
	}

	mapping := make(normalize.Mapping, len(in.ColumnMapping))
	for header, target := range in.ColumnMapping {
		f, err := rule.ParseTargetField(target)
		if err != nil {
			f = rule.TargetField(strings.ToUpper(strings.TrimSpace(target)))
		}
		mapping[header] = f
	}
	job.ColumnMapping = datatypes.NewJSONType(mapping)

	job.Rows = make([]normalize.Row, len(in.Rows))
	for i, r := range in.Rows {
		job.Rows[i] = normalize.Row(r)
	}

	if id := strings.TrimSpace(in.CampaignID); id != "" {
		job.CampaignID = &id
		job.CampaignRules = in.CampaignRules
		if in.CampaignRules == nil {
			c, err := s.campaigns.GetCampaign(ctx, id)
			if err != nil {
				return nil, err
			}
			job.CampaignRules = c.ScoringRules
		}
	}

	if s.sequence != nil {
		code, err := s.sequence.NextJobCode(ctx)
		if err != nil {
			s.logger.Warn("failed to generate validation job code", zap.Error(err))
		} else {
			job.Code = code
		}
	}

	if err := s.repo.Create(ctx, job); err != nil {
		s.logger.Error("failed to create validation job", zap.Error(err))
		return nil, errutil.Internal("failed to create validation job", err)
	}

	s.logger.Info("validation job created",
		zap.String("job_id", job.ID),
		zap.String("code", job.Code),
		zap.Bool("dry_run", job.IsDryRun),
		zap.Int("rows", len(job.Rows)))
	return job, nil
}

// CreateJobFromSheet parses a CSV or XLSX upload and creates a job from its
// rows. With an archive configured the file is stored first and its key kept
// on the job.
func (s *Service) CreateJobFromSheet(ctx context.Context, in CreateJobInput, content []byte) (*ValidationJob, error) {
	format, err := sheet.DetectFormat(in.FileName)
	if err != nil {
		return nil, errutil.UnsupportedMediaType(err.Error(), err)
	}
	table, err := sheet.Read(bytes.NewReader(content), format)
	if err != nil {
		return nil, errutil.BadRequest(fmt.Sprintf("cannot read %s", in.FileName), err)
	}
	in.Rows = table.Rows

	var key string
	if s.archive != nil && len(in.Rows) > 0 {
		key = sourceKey(s.now(), in.FileName)
		if err := s.archive.Put(ctx, key, content, format.ContentType()); err != nil {
			s.logger.Error("failed to archive upload", zap.String("file_name", in.FileName), zap.Error(err))
			return nil, errutil.Internal("failed to archive upload", err)
		}
	}
	return s.createJob(ctx, in, key)
}

func sourceKey(now time.Time, fileName string) string {
	base := path.Base(fileName)
	ext := strings.ToLower(path.Ext(base))
	name := slug.Make(strings.TrimSuffix(base, path.Ext(base)))
	if name == "" {
		name = "upload"
	}
	return fmt.Sprintf("uploads/%s/%s-%s%s", now.UTC().Format("2006/01/02"), uuid.NewString(), name, ext)
}

// Run processes the job in the calling goroutine.
func (s *Service) Run(ctx context.Context, jobID string) (*ValidationJob, error) {
	return s.processor.Run(ctx, jobID)
}

type RunPayload struct {
	JobID string `json:"job_id"`
}

// Enqueue hands the job to the asynq worker. The task ID is the job ID, so a
// job is queued at most once.
func (s *Service) Enqueue(ctx context.Context, jobID string) error {
	if s.enqueuer == nil {
		return errors.New("validation job queue is not configured")
	}

	t, err := task.NewJSONTask(taskname.ValidationJobRun, RunPayload{JobID: jobID},
		asynq.Queue(s.queue),
		asynq.MaxRetry(s.maxRetry),
		asynq.TaskID(jobID),
		asynq.Timeout(time.Hour),
	)
	if err != nil {
		return err
	}
	info, err := s.enqueuer.Enqueue(ctx, t)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return errutil.StateError(errutil.ReasonInvalidStateTransition, "validation job is already queued")
		}
		return err
	}

	s.logger.Info("validation job enqueued", zap.String("job_id", jobID), zap.String("queue", info.Queue))
	return nil
}

// Cancel stops a job. A PENDING job is cancelled at once; a PROCESSING job
// stops before its next row and keeps what it already committed.
func (s *Service) Cancel(ctx context.Context, jobID string) (*ValidationJob, error) {
	job, err := s.repo.FindByID(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errutil.NotFound("validation job not found", gorm.ErrRecordNotFound)
	}

	switch job.Status {
	case JobStatusPending:
		err := s.repo.TransitionStatus(ctx, job.ID, JobStatusPending, JobStatusCancelled, map[string]any{
			"finished_at":    time.Now().UTC(),
			"failure_reason": "cancelled before processing",
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Started in the meantime; stop it like any running job.
			return s.Cancel(ctx, jobID)
		}
		if err != nil {
			return nil, err
		}
		jobsFinished.WithLabelValues(string(JobStatusCancelled)).Inc()

	case JobStatusProcessing:
		s.processor.Cancel(job.ID)
		if _, err := s.repo.RequestCancel(ctx, job.ID); err != nil {
			return nil, err
		}

	default:
		return nil, errutil.StateError(errutil.ReasonInvalidStateTransition,
			fmt.Sprintf("validation job is %s and cannot be cancelled", job.Status))
	}

	s.logger.Info("validation job cancel requested", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
	return s.GetJob(ctx, job.ID)
}

// GetJob returns the job with its result rows in line order.
func (s *Service) GetJob(ctx context.Context, jobID string) (*ValidationJob, error) {
	job, err := s.repo.FindByID(ctx, jobID, true)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errutil.NotFound("validation job not found", gorm.ErrRecordNotFound)
	}
	return job, nil
}
