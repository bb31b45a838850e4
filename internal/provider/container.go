package provider

import (
	"github.com/planpay-next/internal/cache"
	"github.com/planpay-next/internal/config"
	"github.com/planpay-next/internal/logger"
	"github.com/planpay-next/internal/models"
	"github.com/planpay-next/internal/payment/alipay"
	"github.com/planpay-next/internal/queue"
	"github.com/planpay-next/internal/repository"
	"github.com/planpay-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config       *config.Config
	QueueClient  *queue.Client
	AlipayClient *alipay.Client

	// Repositories
	PlanRepo  repository.PlanRepository
	OrderRepo repository.OrderRepository

	// Services
	PlanService    *service.PlanService
	OrderService   *service.OrderService
	PaymentService *service.PaymentService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	// 初始化支付宝网关客户端（信任材料缺失时启动即失败报出）
	var alipayClient *alipay.Client
	if cfg.Alipay.AppID != "" {
		ac, err := alipay.NewClient(&alipay.Config{
			AppID:                cfg.Alipay.AppID,
			PrivateKey:           cfg.Alipay.PrivateKey,
			SignType:             cfg.Alipay.SignType,
			AlipayPublicKey:      cfg.Alipay.AlipayPublicKey,
			AppCert:              cfg.Alipay.AppCert,
			AppCertPath:          cfg.Alipay.AppCertPath,
			AlipayPublicCert:     cfg.Alipay.AlipayPublicCert,
			AlipayPublicCertPath: cfg.Alipay.AlipayPublicCertPath,
			RootCert:             cfg.Alipay.RootCert,
			RootCertPath:         cfg.Alipay.RootCertPath,
			GatewayURL:           cfg.Alipay.GatewayURL,
			FallbackGatewayURLs:  cfg.Alipay.FallbackGatewayURLs,
			NotifyURL:            cfg.Alipay.NotifyURL,
		})
		if err != nil {
			logger.Errorw("provider_init_alipay_client_failed", "error", err)
		} else {
			alipayClient = ac
		}
	} else {
		logger.Warnw("provider_alipay_not_configured")
	}

	c := &Container{
		Config:       cfg,
		QueueClient:  queueClient,
		AlipayClient: alipayClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.PlanRepo = repository.NewPlanRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
}

func (c *Container) initServices() {
	c.PlanService = service.NewPlanService(c.PlanRepo)
	c.OrderService = service.NewOrderService(c.OrderRepo, c.PlanRepo, c.QueueClient, c.Config.Order.PaymentExpireMinutes)
	c.PaymentService = service.NewPaymentService(c.OrderRepo, c.AlipayClient, c.QueueClient, c.Config.Alipay.AppID)
}
