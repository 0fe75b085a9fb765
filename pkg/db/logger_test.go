package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func query(sql string) func() (string, int64) {
	return func() (string, int64) { return sql, 1 }
}

func TestZapGormLogger_Trace(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapGormLogger(zap.New(core), logger.Warn, false)

	l.Trace(ctx, time.Now(), query("SELECT 1"), nil)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), query("SELECT * FROM campaigns"), logger.ErrRecordNotFound)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), query("UPDATE campaign_kits"), errors.New("database is locked"))
	l.Trace(ctx, time.Now().Add(-time.Second), query("SELECT * FROM campaign_submissions"), nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "UPDATE campaign_kits", entries[0].ContextMap()["sql"])
	require.Equal(t, "gorm.slow_query", entries[1].Message)

	l.LogMode(logger.Silent).Trace(ctx, time.Now(), query("SELECT 1"), errors.New("boom"))
	require.Equal(t, 2, logs.Len())
}
