package main

import (
	"fmt"

	"github.com/planpay-next/internal/config"
	"github.com/planpay-next/internal/constants"
	"github.com/planpay-next/internal/logger"
	"github.com/planpay-next/internal/models"

	"github.com/shopspring/decimal"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 添加订阅套餐
	plans := []models.Plan{
		{
			Slug:         "starter-monthly",
			Name:         "入门版（月付）",
			Description:  "适合个人体验的基础套餐，支持全部核心功能。",
			Price:        models.NewMoneyFromDecimal(decimal.NewFromFloat(19.90)),
			Currency:     constants.SiteCurrencyDefault,
			DurationDays: 30,
			SortOrder:    300,
			Enabled:      true,
		},
		{
			Slug:         "pro-monthly",
			Name:         "专业版（月付）",
			Description:  "面向重度用户，包含更高配额与优先支持。",
			Price:        models.NewMoneyFromDecimal(decimal.NewFromFloat(49.90)),
			Currency:     constants.SiteCurrencyDefault,
			DurationDays: 30,
			SortOrder:    200,
			Enabled:      true,
		},
		{
			Slug:         "pro-yearly",
			Name:         "专业版（年付）",
			Description:  "专业版年付套餐，相比月付立省两个月。",
			Price:        models.NewMoneyFromDecimal(decimal.NewFromFloat(499.00)),
			Currency:     constants.SiteCurrencyDefault,
			DurationDays: 365,
			SortOrder:    100,
			Enabled:      true,
		},
		{
			Slug:         "legacy-basic",
			Name:         "基础版（已下架）",
			Description:  "历史套餐，仅保留给存量订单对账使用。",
			Price:        models.NewMoneyFromDecimal(decimal.NewFromFloat(9.90)),
			Currency:     constants.SiteCurrencyDefault,
			DurationDays: 30,
			SortOrder:    0,
			Enabled:      false,
		},
	}

	for _, plan := range plans {
		var existing models.Plan
		if err := models.DB.Where("slug = ?", plan.Slug).First(&existing).Error; err != nil {
			if err := models.DB.Create(&plan).Error; err != nil {
				stdLog.Printf("Failed to create plan %s: %v", plan.Slug, err)
			} else {
				stdLog.Printf("Created plan: %s", plan.Slug)
			}
			continue
		}
		existing.Name = plan.Name
		existing.Description = plan.Description
		existing.Price = plan.Price
		existing.Currency = plan.Currency
		existing.DurationDays = plan.DurationDays
		existing.SortOrder = plan.SortOrder
		existing.Enabled = plan.Enabled
		if err := models.DB.Save(&existing).Error; err != nil {
			stdLog.Printf("Failed to update plan %s: %v", plan.Slug, err)
		} else {
			stdLog.Printf("Updated plan: %s", plan.Slug)
		}
	}

	fmt.Println("\n✅ Seed data created successfully!")
	fmt.Println("Summary:")
	fmt.Println("- 3 active plans (starter-monthly, pro-monthly, pro-yearly)")
	fmt.Println("- 1 disabled plan (legacy-basic)")
}
