package sequence

import (
	"context"
	"testing"
	"time"

	"incentive-controlplane/services/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, now time.Time) (*RedisGenerator, *miniredis.Miniredis) {
	t.Helper()
	rdb, mr := testutil.NewTestRedis(t)

	g := NewRedisGenerator(Params{Redis: rdb}).(*RedisGenerator)
	g.now = func() time.Time { return now }
	return g, mr
}

func TestNextJobCode_SequentialPerDay(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	g, mr := newTestGenerator(t, now)

	first, err := g.NextJobCode(context.Background())
	require.NoError(t, err)
	require.Regexp(t, `^VJ-260314-001[A-Z2-9]{2}$`, first)

	second, err := g.NextJobCode(context.Background())
	require.NoError(t, err)
	require.Regexp(t, `^VJ-260314-002[A-Z2-9]{2}$`, second)

	ttl := mr.TTL("seq:VJ:260314")
	require.Equal(t, 14*time.Hour, ttl)
}

func TestNextCampaignCode_SeparateCounter(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	g, _ := newTestGenerator(t, now)

	_, err := g.NextJobCode(context.Background())
	require.NoError(t, err)

	code, err := g.NextCampaignCode(context.Background())
	require.NoError(t, err)
	require.Regexp(t, `^CMP-260314-001`, code)
}
