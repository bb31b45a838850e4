package public

import (
	"github.com/planpay-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// ListPlans 获取可售套餐列表
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.PlanService.ListEnabled()
	if err != nil {
		requestLog(c).Errorw("plan_list_handler_failed", "error", err)
		response.Internal(c, "plan list failed")
		return
	}
	response.Success(c, gin.H{"plans": plans})
}
