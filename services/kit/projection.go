package kit

import (
	"time"

	"incentive-controlplane/services/campaign"
)

// Projection replays progress in memory. Dry runs use it to predict kit
// completions without touching storage.
type Projection struct {
	campaign *campaign.Campaign
	kits     map[string]*CampaignKit
	now      func() time.Time
}

// NewProjection seeds the projection with stored kits, which are copied.
func NewProjection(c *campaign.Campaign, existing []CampaignKit) *Projection {
	p := &Projection{
		campaign: c,
		kits:     make(map[string]*CampaignKit, len(existing)),
		now:      time.Now,
	}
	for i := range existing {
		k := existing[i]
		k.Progress = append([]KitProgress(nil), existing[i].Progress...)
		p.kits[k.UserID] = &k
	}
	return p
}

// Apply mirrors Tracker.ApplyValidatedSubmission.
func (p *Projection) Apply(userID, requirementID string, qty int64) (*Outcome, error) {
	k, ok := p.kits[userID]
	if !ok {
		k = newKit("projected:"+userID, p.campaign, userID)
		p.kits[userID] = k
	}
	if k.IsCompleted() {
		return nil, alreadyCompleted(k)
	}
	completed, err := k.increment(requirementID, qty, p.now().UTC())
	if err != nil {
		return nil, err
	}
	return &Outcome{Kit: k, Completed: completed}, nil
}

// Kit returns the projected kit of userID, if any.
func (p *Projection) Kit(userID string) (*CampaignKit, bool) {
	k, ok := p.kits[userID]
	return k, ok
}
