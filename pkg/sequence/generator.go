package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"incentive-controlplane/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator hands out short human readable codes.
type Generator interface {
	NextJobCode(ctx context.Context) (string, error)
	NextCampaignCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

func (g *RedisGenerator) NextJobCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "VJ")
}

func (g *RedisGenerator) NextCampaignCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "CMP")
}

// nextDailyCode yields PREFIX-YYMMDD-SEQXX, with SEQ base36 and a counter reset every UTC day.
func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := g.now().UTC()
	today := now.Format("060102")
	key := rediskey.BuildDailySequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		_ = g.rdb.Expire(ctx, key, endOfDay.Sub(now)).Err()
	}

	encodedSeq := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encodedSeq) < 3 {
		encodedSeq = strings.Repeat("0", 3-len(encodedSeq)) + encodedSeq
	}

	randSuffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, today, encodedSeq, randSuffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
