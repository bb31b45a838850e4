package public

import (
	"errors"

	"github.com/planpay-next/internal/http/response"
	"github.com/planpay-next/internal/models"
	"github.com/planpay-next/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrderRequest 游客下单请求
type createOrderRequest struct {
	PlanSlug string `json:"plan_slug" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

// CreateOrder 游客下单并发起扫码预下单
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	order, err := h.OrderService.CreateOrder(service.CreateOrderInput{
		PlanSlug: req.PlanSlug,
		Email:    req.Email,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailInvalid):
			response.BadRequest(c, "email invalid")
		case errors.Is(err, service.ErrPlanNotFound):
			response.NotFound(c, "plan not found")
		default:
			requestLog(c).Errorw("order_create_handler_failed", "plan_slug", req.PlanSlug, "error", err)
			response.Internal(c, "order create failed")
		}
		return
	}

	result, err := h.PaymentService.CreatePrecreate(c.Request.Context(), order)
	if err != nil {
		requestLog(c).Warnw("order_precreate_handler_failed",
			"order_no", order.OrderNo,
			"error", err,
		)
		// 订单已创建，返回订单号便于后续重试支付
		response.Error(c, response.CodeInternal, "payment precreate failed")
		return
	}

	response.Success(c, gin.H{
		"order":   orderView(order),
		"qr_code": result.QRCode,
	})
}

// ListOrders 按邮箱查询历史订单
func (h *Handler) ListOrders(c *gin.Context) {
	email := c.Query("email")
	orders, err := h.OrderService.ListByEmail(email, 0)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailInvalid):
			response.BadRequest(c, "email invalid")
		default:
			requestLog(c).Errorw("order_list_handler_failed", "error", err)
			response.Internal(c, "order list failed")
		}
		return
	}
	views := make([]gin.H, 0, len(orders))
	for i := range orders {
		views = append(views, orderView(&orders[i]))
	}
	response.Success(c, gin.H{"orders": views})
}

// GetOrder 查询订单状态
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Param("order_no")
	order, err := h.OrderService.GetByOrderNo(orderNo)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			response.NotFound(c, "order not found")
		default:
			requestLog(c).Errorw("order_get_handler_failed", "order_no", orderNo, "error", err)
			response.Internal(c, "order fetch failed")
		}
		return
	}
	response.Success(c, gin.H{"order": orderView(order)})
}

func orderView(order *models.Order) gin.H {
	view := gin.H{
		"order_no":   order.OrderNo,
		"status":     order.Status,
		"currency":   order.Currency,
		"amount":     order.Amount,
		"qr_code":    order.QRCode,
		"expires_at": order.ExpiresAt,
		"paid_at":    order.PaidAt,
		"created_at": order.CreatedAt,
	}
	if order.Plan != nil {
		view["plan"] = gin.H{
			"slug": order.Plan.Slug,
			"name": order.Plan.Name,
		}
	}
	return view
}
