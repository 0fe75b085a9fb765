package earning

import (
	"strings"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/kit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Leg is the points and money of one payout.
type Leg struct {
	Points int64
	Amount decimal.Decimal
}

// SellerAmountPolicy prices the seller leg of a completed kit. The manager
// leg is always a percentage of it.
type SellerAmountPolicy interface {
	SellerLeg(c *campaign.Campaign, k *kit.CampaignKit) Leg
}

// PointsConversionPolicy pays PointsOnCompletion converted at PointValue per point.
type PointsConversionPolicy struct {
	PointValue decimal.Decimal
}

func (p PointsConversionPolicy) SellerLeg(c *campaign.Campaign, _ *kit.CampaignKit) Leg {
	return Leg{
		Points: c.PointsOnCompletion,
		Amount: decimal.NewFromInt(c.PointsOnCompletion).Mul(p.PointValue).Round(2),
	}
}

// FixedAmountPolicy pays the same amount for every completed kit.
type FixedAmountPolicy struct {
	Amount decimal.Decimal
}

func (p FixedAmountPolicy) SellerLeg(c *campaign.Campaign, _ *kit.CampaignKit) Leg {
	return Leg{Points: c.PointsOnCompletion, Amount: p.Amount.Round(2)}
}

// ManagerLeg is pct percent of the seller leg: points rounded half up to a
// whole point, money to cents.
func ManagerLeg(seller Leg, pct decimal.Decimal) Leg {
	ratio := pct.Div(decimal.NewFromInt(100))
	return Leg{
		Points: decimal.NewFromInt(seller.Points).Mul(ratio).Round(0).IntPart(),
		Amount: seller.Amount.Mul(ratio).Round(2),
	}
}

// NewSellerAmountPolicy picks the policy named by EARNINGS.SELLER_POLICY.
func NewSellerAmountPolicy(cfg *config.Config) SellerAmountPolicy {
	if cfg == nil {
		return PointsConversionPolicy{PointValue: decimal.NewFromInt(1)}
	}

	switch strings.ToLower(cfg.Earnings.SellerPolicy) {
	case "fixed":
		amount, err := decimal.NewFromString(cfg.Earnings.FixedAmount)
		if err != nil {
			zap.L().Warn("invalid EARNINGS.FIXED_AMOUNT, paying zero", zap.String("value", cfg.Earnings.FixedAmount), zap.Error(err))
			amount = decimal.Zero
		}
		return FixedAmountPolicy{Amount: amount}
	default:
		value, err := decimal.NewFromString(cfg.Earnings.PointValue)
		if err != nil {
			zap.L().Warn("invalid EARNINGS.POINT_VALUE, using 1", zap.String("value", cfg.Earnings.PointValue), zap.Error(err))
			value = decimal.NewFromInt(1)
		}
		return PointsConversionPolicy{PointValue: value}
	}
}
