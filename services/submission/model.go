package submission

import (
	"time"

	"incentive-controlplane/services/dedup"
	"incentive-controlplane/services/rule"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type SubmissionStatus string
type Source string
type Decision string

const (
	SubmissionStatusPending   SubmissionStatus = dedup.StatusPending
	SubmissionStatusValidated SubmissionStatus = dedup.StatusValidated
	SubmissionStatusRejected  SubmissionStatus = dedup.StatusRejected

	SourceManual Source = "MANUAL"
	SourceBulk   Source = "BULK"

	DecisionValidated Decision = "VALIDATED"
	DecisionRejected  Decision = "REJECTED"
)

// CampaignSubmission is the evidence of one sale. OrderKey is the normalized
// order number and is unique inside a campaign.
type CampaignSubmission struct {
	ID              string                          `gorm:"column:id;primaryKey" json:"id"`
	CampaignID      string                          `gorm:"column:campaign_id;not null;uniqueIndex:idx_submission_campaign_order" json:"campaign_id"`
	OrderKey        string                          `gorm:"column:order_key;not null;uniqueIndex:idx_submission_campaign_order" json:"-"`
	OrderNumber     string                          `gorm:"column:order_number;not null" json:"order_number"`
	UserID          string                          `gorm:"column:user_id;not null;index" json:"user_id"`
	RequirementID   string                          `gorm:"column:requirement_id;not null" json:"requirement_id"`
	KitID           *string                         `gorm:"column:kit_id;index" json:"kit_id,omitempty"`
	Quantity        int64                           `gorm:"column:quantity;not null" json:"quantity"`
	SaleDate        time.Time                       `gorm:"column:sale_date;not null" json:"sale_date"`
	SaleValue       decimal.NullDecimal             `gorm:"column:sale_value;type:decimal(18,2)" json:"sale_value"`
	Status          SubmissionStatus                `gorm:"column:status;type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Source          Source                          `gorm:"column:source;type:varchar(10);not null" json:"source"`
	JobID           *string                         `gorm:"column:job_id;index" json:"job_id,omitempty"`
	ValidatedBy     string                          `gorm:"column:validated_by" json:"validated_by,omitempty"`
	DecisionMessage string                          `gorm:"column:decision_message;type:text" json:"decision_message,omitempty"`
	DecidedAt       *time.Time                      `gorm:"column:decided_at" json:"decided_at,omitempty"`
	Snapshot        datatypes.JSONType[rule.Record] `gorm:"column:snapshot" json:"snapshot"`
	CreatedAt       time.Time                       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CampaignSubmission) TableName() string { return "campaign_submissions" }

func (s *CampaignSubmission) IsPending() bool {
	return s.Status == SubmissionStatusPending
}

// entry is the duplicate index view of a stored submission.
func (s *CampaignSubmission) entry() dedup.Entry {
	return dedup.Entry{
		OrderNumber:   s.OrderNumber,
		SubmissionID:  s.ID,
		RequirementID: s.RequirementID,
		UserID:        s.UserID,
		Status:        string(s.Status),
		Quantity:      s.Quantity,
		SaleDate:      s.SaleDate,
	}
}
