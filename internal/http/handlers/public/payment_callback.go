package public

import (
	"strings"

	"github.com/planpay-next/internal/constants"

	"github.com/gin-gonic/gin"
)

// AlipayCallback 支付宝异步通知入口。
// 无论校验结果如何都返回 200，应答体为 success / fail。
func (h *Handler) AlipayCallback(c *gin.Context) {
	log := requestLog(c)
	form, err := parseCallbackForm(c)
	if err != nil {
		log.Warnw("alipay_callback_form_parse_failed", "error", err)
		c.String(200, constants.AlipayCallbackFail)
		return
	}
	log.Infow("alipay_callback_received",
		"client_ip", c.ClientIP(),
		"out_trade_no", strings.TrimSpace(getFirstValue(form, "out_trade_no")),
		"trade_no", strings.TrimSpace(getFirstValue(form, "trade_no")),
		"trade_status", strings.TrimSpace(getFirstValue(form, "trade_status")),
	)

	result := h.PaymentService.HandleAlipayNotify(form)
	c.String(200, result)
}
