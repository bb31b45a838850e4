package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/planpay-next/internal/cache"
	"github.com/planpay-next/internal/constants"
	"github.com/planpay-next/internal/logger"
	"github.com/planpay-next/internal/models"
	"github.com/planpay-next/internal/payment/alipay"
	"github.com/planpay-next/internal/queue"
	"github.com/planpay-next/internal/repository"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const notifyDedupeTTL = 24 * time.Hour

// PaymentService 支付服务
type PaymentService struct {
	orderRepo    repository.OrderRepository
	alipayClient *alipay.Client
	queueClient  *queue.Client
	appID        string
}

// NewPaymentService 创建支付服务
func NewPaymentService(orderRepo repository.OrderRepository, alipayClient *alipay.Client, queueClient *queue.Client, appID string) *PaymentService {
	return &PaymentService{
		orderRepo:    orderRepo,
		alipayClient: alipayClient,
		queueClient:  queueClient,
		appID:        strings.TrimSpace(appID),
	}
}

// CreatePrecreate 发起扫码预下单并落库二维码
func (s *PaymentService) CreatePrecreate(ctx context.Context, order *models.Order) (*alipay.PrecreateResult, error) {
	if order == nil || order.ID == 0 {
		return nil, ErrOrderNotFound
	}
	if order.Status != constants.OrderStatusPendingPayment {
		return nil, ErrOrderStatusInvalid
	}
	if s.alipayClient == nil {
		return nil, ErrPaymentCreateFailed
	}

	subject := order.OrderNo
	if order.Plan != nil && strings.TrimSpace(order.Plan.Name) != "" {
		subject = order.Plan.Name
	}
	result, err := s.alipayClient.Precreate(ctx, alipay.PrecreateInput{
		OutTradeNo:  order.OrderNo,
		TotalAmount: order.Amount.String(),
		Subject:     subject,
	})
	if err != nil {
		logger.Warnw("payment_precreate_failed",
			"order_id", order.ID,
			"order_no", order.OrderNo,
			"error", err,
		)
		return nil, err
	}

	now := time.Now()
	if err := s.orderRepo.UpdateStatus(order.ID, order.Status, map[string]interface{}{
		"trade_no":   result.TradeNo,
		"qr_code":    result.QRCode,
		"updated_at": now,
	}); err != nil {
		logger.Errorw("payment_precreate_store_failed", "order_id", order.ID, "error", err)
		return nil, ErrOrderUpdateFailed
	}
	order.TradeNo = result.TradeNo
	order.QRCode = result.QRCode
	order.UpdatedAt = now

	logger.Infow("payment_precreate_created",
		"order_id", order.ID,
		"order_no", order.OrderNo,
		"trade_no", result.TradeNo,
	)
	return result, nil
}

// HandleAlipayNotify 处理异步回调，返回应答体（success / fail）。
// 验签失败、字段不符一律返回 fail 且不改变任何订单状态。
func (s *PaymentService) HandleAlipayNotify(form url.Values) string {
	if s.alipayClient == nil || len(form) == 0 {
		return constants.AlipayCallbackFail
	}
	if !s.alipayClient.VerifyNotify(form) {
		logger.Warnw("alipay_notify_verify_failed",
			"out_trade_no", form.Get("out_trade_no"),
			"notify_id", form.Get("notify_id"),
		)
		return constants.AlipayCallbackFail
	}

	outTradeNo := strings.TrimSpace(form.Get("out_trade_no"))
	tradeNo := strings.TrimSpace(form.Get("trade_no"))
	tradeStatus := strings.TrimSpace(form.Get("trade_status"))
	notifyID := strings.TrimSpace(form.Get("notify_id"))
	callbackAppID := strings.TrimSpace(form.Get("app_id"))

	log := logger.S().With(
		"out_trade_no", outTradeNo,
		"trade_no", tradeNo,
		"trade_status", tradeStatus,
		"notify_id", notifyID,
	)

	if outTradeNo == "" {
		log.Warnw("alipay_notify_missing_out_trade_no")
		return constants.AlipayCallbackFail
	}
	if s.appID != "" && callbackAppID != "" && callbackAppID != s.appID {
		log.Warnw("alipay_notify_app_id_mismatch", "callback_app_id", callbackAppID)
		return constants.AlipayCallbackFail
	}

	order, err := s.orderRepo.GetByOrderNo(outTradeNo)
	if err != nil {
		log.Errorw("alipay_notify_order_fetch_failed", "error", err)
		return constants.AlipayCallbackFail
	}
	if order == nil {
		log.Warnw("alipay_notify_order_not_found")
		return constants.AlipayCallbackFail
	}

	if amount := strings.TrimSpace(form.Get("total_amount")); amount != "" {
		callbackAmount, err := decimal.NewFromString(amount)
		if err != nil || callbackAmount.Cmp(order.Amount.Decimal) != 0 {
			log.Warnw("alipay_notify_amount_mismatch",
				"stored_amount", order.Amount.String(),
				"callback_amount", amount,
			)
			return constants.AlipayCallbackFail
		}
	}

	switch tradeStatus {
	case constants.AlipayTradeStatusSuccess, constants.AlipayTradeStatusFinished:
		// 继续支付成功流程
	case constants.AlipayTradeStatusWaitBuyerPay, constants.AlipayTradeStatusClosed:
		// 非终态或关单通知：确认收到即可
		log.Infow("alipay_notify_acknowledged_without_update")
		return constants.AlipayCallbackSuccess
	default:
		log.Warnw("alipay_notify_unknown_trade_status")
		return constants.AlipayCallbackFail
	}

	paidAt := time.Now()
	if gmt := strings.TrimSpace(form.Get("gmt_payment")); gmt != "" {
		if parsed, err := time.ParseInLocation("2006-01-02 15:04:05", gmt, time.Local); err == nil {
			paidAt = parsed
		}
	}
	affected, err := s.orderRepo.MarkPaid(order.OrderNo, tradeNo, paidAt)
	if err != nil {
		// 落库失败应答 fail，网关会重试；去重标记尚未写入，重试不会被吞掉
		log.Errorw("alipay_notify_mark_paid_failed", "error", err)
		return constants.AlipayCallbackFail
	}
	if affected == 0 {
		// 订单已非待支付状态：幂等应答
		log.Infow("alipay_notify_idempotent")
		return constants.AlipayCallbackSuccess
	}

	// notify_id 去重只在支付落库成功后标记，避免重复触发后续任务
	if notifyID != "" {
		first, err := cache.AcquireOnce(context.Background(), "alipay:notify:"+notifyID, notifyDedupeTTL)
		if err != nil {
			log.Warnw("alipay_notify_dedupe_failed", "error", err)
		} else if !first {
			log.Infow("alipay_notify_duplicate")
			return constants.AlipayCallbackSuccess
		}
	}

	if err := s.queueClient.EnqueueOrderPaidNotify(queue.OrderPaidNotifyPayload{
		OrderID: order.ID,
		TradeNo: tradeNo,
	}, asynq.MaxRetry(3)); err != nil {
		log.Warnw("alipay_notify_enqueue_paid_failed", "error", err)
	}

	log.Infow("alipay_notify_processed", "order_id", order.ID)
	return constants.AlipayCallbackSuccess
}
