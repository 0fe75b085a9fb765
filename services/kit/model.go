package kit

import (
	"time"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/campaign"
)

type KitStatus string

const (
	KitStatusInProgress KitStatus = "IN_PROGRESS"
	KitStatusCompleted  KitStatus = "COMPLETED"
)

// CampaignKit is the progress card of one user in one campaign.
type CampaignKit struct {
	ID          string        `gorm:"column:id;primaryKey" json:"id"`
	CampaignID  string        `gorm:"column:campaign_id;not null;uniqueIndex:idx_kit_campaign_user" json:"campaign_id"`
	UserID      string        `gorm:"column:user_id;not null;uniqueIndex:idx_kit_campaign_user" json:"user_id"`
	Status      KitStatus     `gorm:"column:status;type:varchar(20);not null;default:'IN_PROGRESS'" json:"status"`
	Version     int64         `gorm:"column:version;not null;default:0" json:"version"`
	CompletedAt *time.Time    `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Progress    []KitProgress `gorm:"foreignKey:KitID;constraint:OnDelete:CASCADE" json:"progress"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CampaignKit) TableName() string { return "campaign_kits" }

// KitProgress is the fulfilled quantity of one goal requirement.
type KitProgress struct {
	KitID         string `gorm:"column:kit_id;primaryKey" json:"kit_id"`
	RequirementID string `gorm:"column:requirement_id;primaryKey" json:"requirement_id"`
	Fulfilled     int64  `gorm:"column:fulfilled;not null;default:0" json:"fulfilled"`
	Target        int64  `gorm:"column:target;not null" json:"target"`
}

func (KitProgress) TableName() string { return "campaign_kit_progress" }

func (p KitProgress) Done() bool {
	return p.Fulfilled >= p.Target
}

func (k *CampaignKit) IsCompleted() bool {
	return k.Status == KitStatusCompleted
}

func (k *CampaignKit) ProgressFor(requirementID string) *KitProgress {
	for i := range k.Progress {
		if k.Progress[i].RequirementID == requirementID {
			return &k.Progress[i]
		}
	}
	return nil
}

// newKit builds an IN_PROGRESS kit with one zeroed counter per requirement.
func newKit(id string, c *campaign.Campaign, userID string) *CampaignKit {
	k := &CampaignKit{
		ID:         id,
		CampaignID: c.ID,
		UserID:     userID,
		Status:     KitStatusInProgress,
	}
	for _, req := range c.OrderedRequirements() {
		k.Progress = append(k.Progress, KitProgress{
			KitID:         id,
			RequirementID: req.ID,
			Target:        req.TargetQuantity,
		})
	}
	return k
}

// increment applies qty to the in-memory kit with the same capping and
// completion rules the repository enforces in SQL.
func (k *CampaignKit) increment(requirementID string, qty int64, now time.Time) (bool, error) {
	if k.IsCompleted() {
		return false, alreadyCompleted(k)
	}
	p := k.ProgressFor(requirementID)
	if p == nil {
		return false, errutil.NotFound("requirement is not part of this kit", nil)
	}
	p.Fulfilled += qty
	if p.Fulfilled > p.Target {
		p.Fulfilled = p.Target
	}
	k.Version++
	for _, other := range k.Progress {
		if !other.Done() {
			return false, nil
		}
	}
	k.Status = KitStatusCompleted
	k.CompletedAt = &now
	return true, nil
}

func alreadyCompleted(k *CampaignKit) error {
	return errutil.StateError(errutil.ReasonKitAlreadyCompleted,
		"kit is already completed; sales no longer count toward it",
		errutil.WithDetails(errutil.Detail{Field: "kit_id", Message: k.ID}))
}
