package campaign

import (
	"sort"
	"time"

	"incentive-controlplane/services/rule"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CampaignStatus string
type UnitType string

const (
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusExpired   CampaignStatus = "EXPIRED"

	UnitTypeUnit UnitType = "UNIT"
	UnitTypePair UnitType = "PAIR"
)

// Campaign is an incentive program: sellers fill a kit of goal requirements
// inside [StartDate, EndDate) and earn PointsOnCompletion when every goal is met.
type Campaign struct {
	ID                      string                                `gorm:"column:id;primaryKey"`
	Code                    string                                `gorm:"column:code;index"`
	Title                   string                                `gorm:"column:title;type:varchar(255);not null"`
	Description             string                                `gorm:"column:description;type:text"`
	StartDate               time.Time                             `gorm:"column:start_date;not null"`
	EndDate                 time.Time                             `gorm:"column:end_date;not null"`
	Status                  CampaignStatus                        `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE';index"`
	PointsOnCompletion      int64                                 `gorm:"column:points_on_completion;not null;default:0"`
	ManagerPointsPercentage decimal.Decimal                       `gorm:"column:manager_points_percentage;type:decimal(5,2);not null;default:0"`
	ScoringRules            datatypes.JSONSlice[rule.ScoringRule] `gorm:"column:scoring_rules"`
	Requirements            []GoalRequirement                     `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE"`
	CreatedAt               time.Time                             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                             `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "campaigns" }

// GoalRequirement is one goal of a campaign kit. A record counts toward it
// when every condition holds.
type GoalRequirement struct {
	ID             string           `gorm:"column:id;primaryKey"`
	CampaignID     string           `gorm:"column:campaign_id;index;not null"`
	Position       int              `gorm:"column:position;not null"`
	Description    string           `gorm:"column:description"`
	TargetQuantity int64            `gorm:"column:target_quantity;not null"`
	UnitType       UnitType         `gorm:"column:unit_type;type:varchar(10);not null;default:'UNIT'"`
	Conditions     []rule.Condition `gorm:"foreignKey:GoalRequirementID;constraint:OnDelete:CASCADE"`
}

func (GoalRequirement) TableName() string { return "goal_requirements" }

// IsActive checks status and whether now falls inside the campaign window.
func (c *Campaign) IsActive(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if now.Before(c.StartDate) {
		return false
	}
	return now.Before(c.EndDate)
}

// WindowCheck is the outcome of placing a sale date against the campaign window.
type WindowCheck struct {
	Accepted bool
	// ViaGrace is set when the sale predates StartDate but falls inside the grace period.
	ViaGrace bool
}

// CheckSaleDate accepts sale days in [StartDate-graceDays, EndDate).
func (c *Campaign) CheckSaleDate(saleDate time.Time, graceDays int) WindowCheck {
	day := truncateDay(saleDate)
	start := truncateDay(c.StartDate)
	if !day.Before(c.EndDate) {
		return WindowCheck{}
	}
	if !day.Before(start) {
		return WindowCheck{Accepted: true}
	}
	if graceDays > 0 && !day.Before(start.AddDate(0, 0, -graceDays)) {
		return WindowCheck{Accepted: true, ViaGrace: true}
	}
	return WindowCheck{}
}

// OrderedRequirements returns the requirements sorted by Position without
// touching the receiver.
func (c *Campaign) OrderedRequirements() []*GoalRequirement {
	out := make([]*GoalRequirement, len(c.Requirements))
	for i := range c.Requirements {
		out[i] = &c.Requirements[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (c *Campaign) Requirement(id string) *GoalRequirement {
	for i := range c.Requirements {
		if c.Requirements[i].ID == id {
			return &c.Requirements[i]
		}
	}
	return nil
}

// CanTransition reports whether status may move from c.Status to to.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	return s == CampaignStatusActive && (to == CampaignStatusCompleted || to == CampaignStatusExpired)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
