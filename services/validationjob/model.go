package validationjob

import (
	"time"

	"incentive-controlplane/services/normalize"
	"incentive-controlplane/services/rule"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type JobStatus string
type RowStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"

	RowStatusSuccess RowStatus = "SUCCESS"
	RowStatusError   RowStatus = "ERROR"
	RowStatusWarning RowStatus = "WARNING"
	RowStatusSkipped RowStatus = "SKIPPED"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Summary counts row outcomes. ValidatedSales includes WARNING rows.
type Summary struct {
	TotalRows         int   `gorm:"column:total_rows;not null;default:0" json:"total_rows"`
	ProcessedRows     int   `gorm:"column:processed_rows;not null;default:0" json:"processed_rows"`
	ValidatedSales    int   `gorm:"column:validated_sales;not null;default:0" json:"validated_sales"`
	Errors            int   `gorm:"column:errors;not null;default:0" json:"errors"`
	Warnings          int   `gorm:"column:warnings;not null;default:0" json:"warnings"`
	Skipped           int   `gorm:"column:skipped;not null;default:0" json:"skipped"`
	PointsDistributed int64 `gorm:"column:points_distributed;not null;default:0" json:"points_distributed"`
	KitsCompleted     int   `gorm:"column:kits_completed;not null;default:0" json:"kits_completed"`
}

func (s *Summary) add(r *ValidationResultRow) {
	s.ProcessedRows++
	switch r.Status {
	case RowStatusSuccess:
		s.ValidatedSales++
	case RowStatusWarning:
		s.ValidatedSales++
		s.Warnings++
	case RowStatusError:
		s.Errors++
	case RowStatusSkipped:
		s.Skipped++
	}
	s.PointsDistributed += r.PointsAttributed
	if r.KitCompleted {
		s.KitsCompleted++
	}
}

// ValidationJob is one bulk upload. Rows holds the raw input in line order;
// Results the outcome per line.
type ValidationJob struct {
	ID                string                                `gorm:"column:id;primaryKey" json:"id"`
	Code              string                                `gorm:"column:code;index" json:"code"`
	FileName          string                                `gorm:"column:file_name" json:"file_name"`
	SourceKey         string                                `gorm:"column:source_key" json:"source_key,omitempty"`
	CampaignID        *string                               `gorm:"column:campaign_id;index" json:"campaign_id,omitempty"`
	IsDryRun          bool                                  `gorm:"column:is_dry_run;not null;default:false" json:"is_dry_run"`
	ColumnMapping     datatypes.JSONType[normalize.Mapping] `gorm:"column:column_mapping" json:"column_mapping"`
	DuplicateStrategy string                                `gorm:"column:duplicate_strategy;type:varchar(20);not null" json:"duplicate_strategy"`
	GracePeriodDays   int                                   `gorm:"column:grace_period_days;not null;default:0" json:"grace_period_days"`
	SaleValueMin      decimal.NullDecimal                   `gorm:"column:sale_value_min;type:decimal(18,2)" json:"sale_value_min"`
	SaleValueMax      decimal.NullDecimal                   `gorm:"column:sale_value_max;type:decimal(18,2)" json:"sale_value_max"`
	CampaignRules     datatypes.JSONSlice[rule.ScoringRule] `gorm:"column:campaign_rules" json:"campaign_rules"`
	CustomRules       datatypes.JSONSlice[rule.ScoringRule] `gorm:"column:custom_rules" json:"custom_rules"`
	Rows              datatypes.JSONSlice[normalize.Row]    `gorm:"column:input_rows" json:"-"`
	Status            JobStatus                             `gorm:"column:status;type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CancelRequested   bool                                  `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	Summary           Summary                               `gorm:"embedded" json:"summary"`
	FailureReason     string                                `gorm:"column:failure_reason;type:text" json:"failure_reason,omitempty"`
	CreatedBy         string                                `gorm:"column:created_by" json:"created_by,omitempty"`
	StartedAt         *time.Time                            `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt        *time.Time                            `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Results           []ValidationResultRow                 `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"results,omitempty"`
	CreatedAt         time.Time                             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ValidationJob) TableName() string { return "validation_jobs" }

func (j *ValidationJob) HasCampaign() bool {
	return j.CampaignID != nil && *j.CampaignID != ""
}

// ValidationResultRow is the outcome of one input line. Line counts the
// header, so the first data row is line 2.
type ValidationResultRow struct {
	JobID            string                                `gorm:"column:job_id;primaryKey" json:"job_id"`
	Line             int                                   `gorm:"column:line;primaryKey" json:"line"`
	Status           RowStatus                             `gorm:"column:status;type:varchar(10);not null" json:"status"`
	Reason           string                                `gorm:"column:reason;type:varchar(40)" json:"reason,omitempty"`
	Normalized       datatypes.JSONType[map[string]string] `gorm:"column:normalized" json:"normalized"`
	Message          string                                `gorm:"column:message;type:text" json:"message"`
	PointsAttributed int64                                 `gorm:"column:points_attributed;not null;default:0" json:"points_attributed"`
	TriggeredRule    string                                `gorm:"column:triggered_rule" json:"triggered_rule,omitempty"`
	RequirementID    string                                `gorm:"column:requirement_id" json:"requirement_id,omitempty"`
	UserID           string                                `gorm:"column:user_id" json:"user_id,omitempty"`
	SubmissionID     *string                               `gorm:"column:submission_id" json:"submission_id,omitempty"`
	KitCompleted     bool                                  `gorm:"column:kit_completed;not null;default:false" json:"kit_completed"`
}

func (ValidationResultRow) TableName() string { return "validation_result_rows" }
