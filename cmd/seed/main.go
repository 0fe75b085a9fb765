package main

import (
	"context"
	"flag"
	"log"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/db"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/rule"
	"incentive-controlplane/services/seller"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	managerCPF = flag.String("manager-cpf", "111.444.777-35", "CPF of the demo store manager")
	sellerCPF  = flag.String("seller-cpf", "529.982.247-25", "CPF of the demo seller")
	days       = flag.Int("days", 30, "length of the demo campaign in days")
)

// Seeds a demo kit campaign with one seller and their manager.
func main() {
	flag.Parse()
	_ = godotenv.Load()

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		fx.Provide(
			campaign.NewRepository,
			campaign.NewService,
			seller.NewService,
		),
		fx.Invoke(seed),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(ctx)
}

func seed(db *gorm.DB, campaigns *campaign.Service, sellers *seller.Service) error {
	ctx := context.Background()
	if err := db.WithContext(ctx).AutoMigrate(
		&campaign.Campaign{},
		&campaign.GoalRequirement{},
		&rule.Condition{},
		&seller.Seller{},
	); err != nil {
		return err
	}

	manager, err := sellers.Register(ctx, seller.RegisterInput{Name: "Demo Manager", CPF: *managerCPF})
	if err != nil {
		return err
	}
	s, err := sellers.Register(ctx, seller.RegisterInput{Name: "Demo Seller", CPF: *sellerCPF, ManagerID: manager.ID})
	if err != nil {
		return err
	}

	start := time.Now().UTC().Truncate(24 * time.Hour)
	c, err := campaigns.CreateCampaign(ctx, campaign.CreateCampaignInput{
		Title:                   "Kit A",
		Description:             "Two Super-foco lenses and one Normal lens",
		StartDate:               start,
		EndDate:                 start.AddDate(0, 0, *days),
		PointsOnCompletion:      500,
		ManagerPointsPercentage: decimal.NewFromInt(10),
		Requirements: []campaign.RequirementInput{
			{Description: "Super-foco", TargetQuantity: 2, Conditions: []campaign.ConditionInput{
				{Field: rule.FieldProductName, Operator: rule.OpContains, Value: "Super-foco"},
			}},
			{Description: "Normal", TargetQuantity: 1, Conditions: []campaign.ConditionInput{
				{Field: rule.FieldProductName, Operator: rule.OpContains, Value: "Normal"},
			}},
		},
		ScoringRules: []rule.ScoringRule{
			{ID: "high-value", Expression: "sale_value >= 1000.0", Points: 10},
		},
	})
	if err != nil {
		return err
	}

	zap.L().Info("demo data seeded",
		zap.String("campaign_id", c.ID),
		zap.String("seller_id", s.ID),
		zap.String("manager_id", manager.ID))
	return nil
}
