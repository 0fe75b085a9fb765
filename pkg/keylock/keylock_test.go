package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"incentive-controlplane/services/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()

	var (
		active  int32
		maxSeen int32
		counter int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "kit:1")
			require.NoError(t, err)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			atomic.AddInt32(&counter, 1)
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(20), atomic.LoadInt32(&counter))
	require.Equal(t, int32(1), maxSeen)
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewMemoryLocker())
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	locker := NewMemoryLocker()

	unlockA, err := locker.Lock(context.Background(), "kit:a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "kit:b")
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	locker := NewMemoryLocker()

	unlock, err := locker.Lock(context.Background(), "kit:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "kit:1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	require.Empty(t, locker.locks)
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	rdb, mr := testutil.NewTestRedis(t)
	return NewRedisLocker(rdb, time.Second, 2*time.Millisecond), mr
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, locker)
}

func TestRedisLocker_ReleaseOnlyOwnToken(t *testing.T) {
	locker, mr := newRedisLocker(t)

	unlock, err := locker.Lock(context.Background(), "kit:9")
	require.NoError(t, err)
	require.True(t, mr.Exists("kit:9"))

	// another holder took over after expiry
	require.NoError(t, mr.Set("kit:9", "someone-else"))
	unlock()

	got, err := mr.Get("kit:9")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)

	unlock, err := locker.Lock(context.Background(), "campaign:1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		second, err := locker.Lock(context.Background(), "campaign:1")
		require.NoError(t, err)
		second()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock was never acquired")
	}
	require.False(t, mr.Exists("campaign:1"))
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	rdb, mr := testutil.NewTestRedis(t)
	locker := NewRedisLocker(rdb, 90*time.Millisecond, 2*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "campaign:long")
	require.NoError(t, err)

	// well past the TTL in total; each step leaves room for a renewal
	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		mr.FastForward(60 * time.Millisecond)
		require.True(t, mr.Exists("campaign:long"), "step %d", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "campaign:long")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	require.False(t, mr.Exists("campaign:long"))
}

func TestRedisLocker_StopsRenewingLostLock(t *testing.T) {
	rdb, mr := testutil.NewTestRedis(t)
	locker := NewRedisLocker(rdb, 90*time.Millisecond, 2*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "campaign:lost")
	require.NoError(t, err)

	require.NoError(t, mr.Set("campaign:lost", "someone-else"))
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, mr.TTL("campaign:lost"))

	unlock()
	got, err := mr.Get("campaign:lost")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}
