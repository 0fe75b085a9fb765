package kit

import (
	"context"

	"incentive-controlplane/pkg/errutil"

	"go.uber.org/fx"
)

type Service struct {
	repo Repository
}

type ServiceParams struct {
	fx.In

	Repository Repository
}

func NewService(p ServiceParams) *Service {
	return &Service{repo: p.Repository}
}

// GetProgress returns the user's kit with one counter per requirement.
func (s *Service) GetProgress(ctx context.Context, campaignID, userID string) (*CampaignKit, error) {
	k, err := s.repo.FindKit(ctx, campaignID, userID)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, errutil.NotFound("user has no kit in this campaign", nil)
	}
	return k, nil
}

func (s *Service) ListByCampaign(ctx context.Context, campaignID string) ([]CampaignKit, error) {
	return s.repo.ListByCampaign(ctx, campaignID)
}
