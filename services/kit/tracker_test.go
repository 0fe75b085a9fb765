package kit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/keylock"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type countingDistributor struct {
	mu    sync.Mutex
	calls []Completion
	err   error
}

func (d *countingDistributor) Distribute(ctx context.Context, tx *gorm.DB, c Completion) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, c)
	return nil
}

func (d *countingDistributor) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func kitACampaign() *campaign.Campaign {
	return &campaign.Campaign{
		ID:        "camp-a",
		Title:     "Kit A",
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:    campaign.CampaignStatusActive,
		Requirements: []campaign.GoalRequirement{
			{ID: "req-super", Position: 0, TargetQuantity: 2, UnitType: campaign.UnitTypeUnit},
			{ID: "req-normal", Position: 1, TargetQuantity: 1, UnitType: campaign.UnitTypeUnit},
		},
	}
}

func newTestTracker(t *testing.T, repo func(Repository) Repository) (*Tracker, *countingDistributor, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &CampaignKit{}, &KitProgress{})
	d := &countingDistributor{}
	r := NewRepository(db)
	if repo != nil {
		r = repo(r)
	}
	tr := NewTracker(TrackerParams{
		DB:          db,
		Repository:  r,
		Locker:      keylock.NewMemoryLocker(),
		Distributor: d,
	})
	return tr, d, db
}

func TestTracker_KitACompletesOnce(t *testing.T) {
	ctx := context.Background()
	tr, dist, _ := newTestTracker(t, nil)
	c := kitACampaign()

	out, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-super", Quantity: 1})
	require.NoError(t, err)
	require.False(t, out.Completed)
	require.Equal(t, KitStatusInProgress, out.Kit.Status)
	require.Len(t, out.Kit.Progress, 2)

	out, err = tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-super", Quantity: 1})
	require.NoError(t, err)
	require.False(t, out.Completed)

	out, err = tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-normal", Quantity: 1})
	require.NoError(t, err)
	require.True(t, out.Completed)
	require.Equal(t, KitStatusCompleted, out.Kit.Status)
	require.NotNil(t, out.Kit.CompletedAt)
	require.Equal(t, 1, dist.count())
	require.Equal(t, out.Kit.ID, dist.calls[0].Kit.ID)

	_, err = tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-normal", Quantity: 1})
	require.Error(t, err)
	require.Equal(t, errutil.KindState, errutil.KindOf(err))
	require.Equal(t, errutil.ReasonKitAlreadyCompleted, errutil.ReasonOf(err))
	require.Equal(t, 1, dist.count())
}

func TestTracker_CapsAtTarget(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t, nil)
	c := kitACampaign()

	out, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-super", Quantity: 7})
	require.NoError(t, err)
	require.False(t, out.Completed)
	require.Equal(t, int64(2), out.Kit.ProgressFor("req-super").Fulfilled)
	require.Equal(t, int64(0), out.Kit.ProgressFor("req-normal").Fulfilled)
}

func TestTracker_KitsAreIndependentPerUser(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t, nil)
	c := kitACampaign()

	a, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-super", Quantity: 2})
	require.NoError(t, err)
	b, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u2", RequirementID: "req-super", Quantity: 1})
	require.NoError(t, err)

	require.NotEqual(t, a.Kit.ID, b.Kit.ID)
	require.Equal(t, int64(1), b.Kit.ProgressFor("req-super").Fulfilled)
}

func TestTracker_ConcurrentValidationsCompleteOnce(t *testing.T) {
	ctx := context.Background()
	tr, dist, _ := newTestTracker(t, nil)
	c := &campaign.Campaign{
		ID:           "camp-b",
		Title:        "Concurrent",
		Status:       campaign.CampaignStatusActive,
		Requirements: []campaign.GoalRequirement{{ID: "only", TargetQuantity: 5}},
	}

	var completed, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "only", Quantity: 1})
			if err != nil {
				if errutil.ReasonOf(err) == errutil.ReasonKitAlreadyCompleted {
					atomic.AddInt32(&rejected, 1)
				}
				return
			}
			if out.Completed {
				atomic.AddInt32(&completed, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), completed)
	require.Equal(t, int32(7), rejected)
	require.Equal(t, 1, dist.count())
}

func TestTracker_WithinFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t, nil)
	c := kitACampaign()
	boom := errors.New("status flip failed")

	_, err := tr.ApplyValidatedSubmission(ctx, Contribution{
		Campaign: c, UserID: "u1", RequirementID: "req-super", Quantity: 1,
		Within: func(tx *gorm.DB, k *CampaignKit) error { return boom },
	})
	require.ErrorIs(t, err, boom)

	k, err := tr.repo.FindKit(ctx, c.ID, "u1")
	require.NoError(t, err)
	require.Nil(t, k)
}

func TestTracker_DistributorFailureRollsBackCompletion(t *testing.T) {
	ctx := context.Background()
	tr, dist, _ := newTestTracker(t, nil)
	c := kitACampaign()

	_, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-super", Quantity: 2})
	require.NoError(t, err)

	dist.err = errors.New("earnings store down")
	_, err = tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-normal", Quantity: 1})
	require.Error(t, err)

	k, err := tr.repo.FindKit(ctx, c.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, KitStatusInProgress, k.Status)
	require.Equal(t, int64(0), k.ProgressFor("req-normal").Fulfilled)

	dist.err = nil
	out, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: "u1", RequirementID: "req-normal", Quantity: 1})
	require.NoError(t, err)
	require.True(t, out.Completed)
	require.Equal(t, 1, dist.count())
}

type conflictOnce struct {
	Repository
	remaining *int32
	calls     *int32
}

func (r *conflictOnce) WithTrx(tx *gorm.DB) Repository {
	return &conflictOnce{Repository: r.Repository.WithTrx(tx), remaining: r.remaining, calls: r.calls}
}

func (r *conflictOnce) IncrementProgress(ctx context.Context, kitID, requirementID string, qty int64) (bool, error) {
	atomic.AddInt32(r.calls, 1)
	if atomic.AddInt32(r.remaining, -1) >= 0 {
		return false, errutil.ConcurrencyConflict("simulated race")
	}
	return r.Repository.IncrementProgress(ctx, kitID, requirementID, qty)
}

func TestTracker_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	remaining, calls := int32(2), int32(0)
	tr, _, _ := newTestTracker(t, func(r Repository) Repository {
		return &conflictOnce{Repository: r, remaining: &remaining, calls: &calls}
	})

	out, err := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: kitACampaign(), UserID: "u1", RequirementID: "req-super", Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), out.Kit.ProgressFor("req-super").Fulfilled)
	require.Equal(t, int32(3), calls)
}

func TestTracker_RejectsUnknownRequirement(t *testing.T) {
	tr, _, _ := newTestTracker(t, nil)

	_, err := tr.ApplyValidatedSubmission(context.Background(), Contribution{Campaign: kitACampaign(), UserID: "u1", RequirementID: "nope", Quantity: 1})
	require.Error(t, err)
}

func TestIncrementProgress_VersionGuard(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &CampaignKit{}, &KitProgress{})
	repo := NewRepository(db)
	c := kitACampaign()

	k, err := repo.FindOrCreateKit(ctx, c, "u1", func() string { return "kit-1" })
	require.NoError(t, err)
	require.Equal(t, int64(0), k.Version)

	_, err = repo.IncrementProgress(ctx, "kit-1", "req-super", 1)
	require.NoError(t, err)

	again, err := repo.FindOrCreateKit(ctx, c, "u1", func() string { return "kit-2" })
	require.NoError(t, err)
	require.Equal(t, "kit-1", again.ID)
	require.Equal(t, int64(1), again.Version)
}

func TestFindOrCreateKit_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t, &CampaignKit{}, &KitProgress{})
	repo := NewRepository(db)
	c := kitACampaign()

	_, err := repo.FindOrCreateKit(ctx, c, "u1", func() string { return "kit-1" })
	require.NoError(t, err)

	_, err = repo.FindOrCreateKit(ctx, c, "u2", func() string { return "kit-1" })
	require.Error(t, err)
	require.True(t, errutil.IsKind(err, errutil.KindConflict))
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestProjection_MatchesTracker(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t, nil)
	c := kitACampaign()
	p := NewProjection(c, nil)

	steps := []struct {
		user, req string
		qty       int64
	}{
		{"u1", "req-super", 1},
		{"u2", "req-normal", 1},
		{"u1", "req-super", 3},
		{"u1", "req-normal", 1},
		{"u1", "req-normal", 1},
	}
	for _, s := range steps {
		want, wantErr := tr.ApplyValidatedSubmission(ctx, Contribution{Campaign: c, UserID: s.user, RequirementID: s.req, Quantity: s.qty})
		got, gotErr := p.Apply(s.user, s.req, s.qty)
		require.Equal(t, errutil.ReasonOf(wantErr), errutil.ReasonOf(gotErr))
		if wantErr != nil {
			continue
		}
		require.Equal(t, want.Completed, got.Completed)
		require.Equal(t, want.Kit.ProgressFor(s.req).Fulfilled, got.Kit.ProgressFor(s.req).Fulfilled)
	}
}

func TestProjection_DoesNotShareSeedState(t *testing.T) {
	c := kitACampaign()
	stored := []CampaignKit{{ID: "k1", CampaignID: c.ID, UserID: "u1", Status: KitStatusInProgress,
		Progress: []KitProgress{{KitID: "k1", RequirementID: "req-super", Target: 2}, {KitID: "k1", RequirementID: "req-normal", Target: 1}}}}

	p := NewProjection(c, stored)
	_, err := p.Apply("u1", "req-super", 2)
	require.NoError(t, err)
	require.Equal(t, int64(0), stored[0].Progress[0].Fulfilled)
}
