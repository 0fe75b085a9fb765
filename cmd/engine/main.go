package main

import (
	"context"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/db"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/health"
	"incentive-controlplane/pkg/keylock"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/minio"
	"incentive-controlplane/pkg/otelcol"
	"incentive-controlplane/pkg/profiling"
	"incentive-controlplane/pkg/redis"
	"incentive-controlplane/pkg/sequence"
	"incentive-controlplane/pkg/server"
	"incentive-controlplane/pkg/task"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/earning"
	"incentive-controlplane/services/kit"
	"incentive-controlplane/services/normalize"
	"incentive-controlplane/services/rule"
	"incentive-controlplane/services/seller"
	"incentive-controlplane/services/submission"
	"incentive-controlplane/services/validationjob"
)

func main() {
	_ = godotenv.Load()

	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		keylock.Module,
		sequence.Module,
		minio.Client,
		fx.Provide(sourceArchive),
		migrations,
		task.Client,
		task.Server,
		rule.Module,
		campaign.Module,
		seller.Module,
		normalize.Module,
		kit.Module,
		earning.Module,
		submission.Module,
		validationjob.Module,
		health.Module,
		server.ProvideOpsServer,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func sourceArchive(a *minio.Archive) validationjob.SourceArchive {
	if a == nil {
		return nil
	}
	return a
}

// migrations runs before the asynq server starts so queued jobs never see a
// missing table.
var migrations = fx.Module("migrations", fx.Invoke(migrate))

func migrate(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			err := db.WithContext(ctx).AutoMigrate(
				&campaign.Campaign{},
				&campaign.GoalRequirement{},
				&rule.Condition{},
				&seller.Seller{},
				&kit.CampaignKit{},
				&kit.KitProgress{},
				&submission.CampaignSubmission{},
				&earning.Earning{},
				&validationjob.ValidationJob{},
				&validationjob.ValidationResultRow{},
			)
			if err != nil {
				zap.L().Error("failed to migrate schema", zap.Error(err))
				return err
			}
			zap.L().Info("schema migrated")
			return nil
		},
	})
}
