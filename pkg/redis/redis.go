package redis

import (
	"context"
	"time"

	"incentive-controlplane/pkg/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Startup continues without redis; job codes and the redis
			// lock backend fail until it is reachable.
			if err := WaitReady(ctx, rdb, 10*time.Second); err != nil {
				zap.L().Error("[Redis] giving up on redis", zap.String("addr", c.Redis.Addr), zap.Error(err))
				return nil
			}
			zap.L().Info("[Redis] Connected to Redis", zap.String("addr", c.Redis.Addr), zap.Int("db", c.Redis.DB))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}

// WaitReady pings rdb with exponential backoff until it answers or maxWait
// elapses.
func WaitReady(ctx context.Context, rdb *redis.Client, maxWait time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = maxWait

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := rdb.Ping(ctx).Err()
		if err != nil {
			zap.L().Warn("[Redis] Redis not ready", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, backoff.WithContext(bo, ctx))
}
