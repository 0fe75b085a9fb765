package earning

import (
	"time"

	"github.com/shopspring/decimal"
)

type EarningType string
type EarningStatus string

const (
	EarningTypeSeller  EarningType = "SELLER"
	EarningTypeManager EarningType = "MANAGER"

	EarningStatusPending EarningStatus = "PENDING"
	EarningStatusPaid    EarningStatus = "PAID"
)

// Earning is a payout created when a kit completes. There is at most one per
// (kit, type).
type Earning struct {
	ID            string          `gorm:"column:id;primaryKey" json:"id"`
	Type          EarningType     `gorm:"column:type;type:varchar(10);not null;uniqueIndex:idx_earning_kit_type" json:"type"`
	KitID         string          `gorm:"column:kit_id;not null;uniqueIndex:idx_earning_kit_type" json:"kit_id"`
	CampaignID    string          `gorm:"column:campaign_id;not null;index" json:"campaign_id"`
	BeneficiaryID string          `gorm:"column:beneficiary_id;not null;index" json:"beneficiary_id"`
	SellerName    string          `gorm:"column:seller_name" json:"seller_name,omitempty"`
	Points        int64           `gorm:"column:points;not null;default:0" json:"points"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(18,2);not null" json:"amount"`
	Status        EarningStatus   `gorm:"column:status;type:varchar(10);not null;default:'PENDING'" json:"status"`
	PaidAt        *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Earning) TableName() string { return "earnings" }
