package redis

import (
	"context"
	"testing"
	"time"

	"incentive-controlplane/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestWaitReady(t *testing.T) {
	ctx := context.Background()
	rdb, mr := testutil.NewTestRedis(t)
	require.NoError(t, WaitReady(ctx, rdb, time.Second))

	mr.Close()
	require.Error(t, WaitReady(ctx, rdb, 300*time.Millisecond))
}
