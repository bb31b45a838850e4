package service

import (
	"net/mail"
	"strings"
	"time"

	"github.com/planpay-next/internal/constants"
	"github.com/planpay-next/internal/logger"
	"github.com/planpay-next/internal/models"
	"github.com/planpay-next/internal/queue"
	"github.com/planpay-next/internal/repository"

	"github.com/google/uuid"
)

// OrderService 订单服务
type OrderService struct {
	orderRepo     repository.OrderRepository
	planRepo      repository.PlanRepository
	queueClient   *queue.Client
	expireMinutes int
}

// NewOrderService 创建订单服务
func NewOrderService(orderRepo repository.OrderRepository, planRepo repository.PlanRepository, queueClient *queue.Client, expireMinutes int) *OrderService {
	if expireMinutes <= 0 {
		expireMinutes = 15
	}
	return &OrderService{
		orderRepo:     orderRepo,
		planRepo:      planRepo,
		queueClient:   queueClient,
		expireMinutes: expireMinutes,
	}
}

// CreateOrderInput 创建订单输入
type CreateOrderInput struct {
	PlanSlug string
	Email    string
	ClientIP string
}

// CreateOrder 创建待支付订单
func (s *OrderService) CreateOrder(input CreateOrderInput) (*models.Order, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	slug := strings.TrimSpace(input.PlanSlug)
	if slug == "" {
		return nil, ErrPlanNotFound
	}

	plan, err := s.planRepo.GetBySlug(slug, true)
	if err != nil {
		logger.Errorw("order_plan_fetch_failed", "plan_slug", slug, "error", err)
		return nil, ErrOrderCreateFailed
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(s.expireMinutes) * time.Minute)
	order := &models.Order{
		OrderNo:   generateOrderNo(),
		PlanID:    plan.ID,
		Email:     email,
		Status:    constants.OrderStatusPendingPayment,
		Currency:  plan.Currency,
		Amount:    plan.Price,
		ClientIP:  strings.TrimSpace(input.ClientIP),
		ExpiresAt: &expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orderRepo.Create(order); err != nil {
		logger.Errorw("order_create_failed", "plan_slug", slug, "error", err)
		return nil, ErrOrderCreateFailed
	}
	order.Plan = plan

	if err := s.queueClient.EnqueueOrderTimeoutCancel(queue.OrderTimeoutCancelPayload{
		OrderID: order.ID,
	}, time.Until(expiresAt)); err != nil {
		// 入队失败不阻断下单，由兜底扫描补偿
		logger.Warnw("order_enqueue_timeout_cancel_failed", "order_id", order.ID, "error", err)
	}

	logger.Infow("order_created",
		"order_id", order.ID,
		"order_no", order.OrderNo,
		"plan_slug", plan.Slug,
		"amount", order.Amount.String(),
	)
	return order, nil
}

// GetByOrderNo 查询订单详情
func (s *OrderService) GetByOrderNo(orderNo string) (*models.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, ErrOrderNotFound
	}
	order, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		logger.Errorw("order_fetch_failed", "order_no", orderNo, "error", err)
		return nil, ErrOrderFetchFailed
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListByEmail 按邮箱查询历史订单
func (s *OrderService) ListByEmail(email string, limit int) ([]models.Order, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	orders, err := s.orderRepo.ListByEmail(normalized, limit)
	if err != nil {
		logger.Errorw("order_list_failed", "email", normalized, "error", err)
		return nil, ErrOrderFetchFailed
	}
	return orders, nil
}

// CancelExpiredOrder 取消超时未支付订单
func (s *OrderService) CancelExpiredOrder(orderID uint) (*models.Order, error) {
	if orderID == 0 {
		return nil, ErrOrderNotFound
	}
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		logger.Errorw("order_cancel_fetch_failed", "order_id", orderID, "error", err)
		return nil, ErrOrderFetchFailed
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != constants.OrderStatusPendingPayment {
		return nil, ErrOrderStatusInvalid
	}
	now := time.Now()
	if order.ExpiresAt != nil && order.ExpiresAt.After(now) {
		// 尚未过期，可能是提前投递的任务
		return nil, ErrOrderStatusInvalid
	}
	affected, err := s.orderRepo.MarkCanceled(order.ID, now)
	if err != nil {
		logger.Errorw("order_cancel_update_failed", "order_id", orderID, "error", err)
		return nil, ErrOrderUpdateFailed
	}
	if affected == 0 {
		// 读取后状态已被并发修改（如支付回调先落库），放弃取消
		return nil, ErrOrderStatusInvalid
	}
	order.Status = constants.OrderStatusCanceled
	order.CanceledAt = &now
	order.UpdatedAt = now
	logger.Infow("order_timeout_canceled", "order_id", order.ID, "order_no", order.OrderNo)
	return order, nil
}

// CancelExpiredOrders 兜底扫描：取消所有到期未支付订单
func (s *OrderService) CancelExpiredOrders(now time.Time, limit int) (int, error) {
	orders, err := s.orderRepo.ListExpiredPending(now, limit)
	if err != nil {
		return 0, err
	}
	canceled := 0
	for i := range orders {
		if _, err := s.CancelExpiredOrder(orders[i].ID); err == nil {
			canceled++
		}
	}
	return canceled, nil
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", ErrEmailInvalid
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", ErrEmailInvalid
	}
	return trimmed, nil
}

func generateOrderNo() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "PP" + time.Now().Format("20060102") + raw[:16]
}
