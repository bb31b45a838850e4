package router

import (
	"fmt"
	"strings"

	"github.com/planpay-next/internal/cache"
	"github.com/planpay-next/internal/config"
	publichandlers "github.com/planpay-next/internal/http/handlers/public"
	"github.com/planpay-next/internal/logger"
	"github.com/planpay-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "pp"
	}
	orderRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:guest_order", redisPrefix),
		WindowSeconds: 60,
		MaxRequests:   10,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		public := apiV1.Group("/public")
		{
			public.GET("/plans", publicHandler.ListPlans)
		}

		// 游客接口
		guest := apiV1.Group("/guest")
		{
			guest.POST("/orders", RateLimitMiddleware(cache.Client(), orderRule, KeyByIP), publicHandler.CreateOrder)
			guest.GET("/orders", publicHandler.ListOrders)
			guest.GET("/orders/:order_no", publicHandler.GetOrder)
		}

		// 支付网关回调
		payments := apiV1.Group("/payments")
		{
			payments.POST("/callback", publicHandler.AlipayCallback)
		}
	}

	return r
}
