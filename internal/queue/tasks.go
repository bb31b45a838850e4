package queue

import (
	"encoding/json"

	"github.com/planpay-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderPaidNotify 支付成功后续处理任务
	TaskOrderPaidNotify = constants.TaskOrderPaidNotify
	// TaskOrderTimeoutCancel 超时取消任务
	TaskOrderTimeoutCancel = constants.TaskOrderTimeoutCancel
)

// OrderPaidNotifyPayload 支付成功任务载荷
type OrderPaidNotifyPayload struct {
	OrderID uint   `json:"order_id"`
	TradeNo string `json:"trade_no"`
}

// OrderTimeoutCancelPayload 超时取消任务载荷
type OrderTimeoutCancelPayload struct {
	OrderID uint `json:"order_id"`
}

// NewOrderPaidNotifyTask 创建支付成功任务
func NewOrderPaidNotifyTask(payload OrderPaidNotifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderPaidNotify, body), nil
}

// NewOrderTimeoutCancelTask 创建超时取消任务
func NewOrderTimeoutCancelTask(payload OrderTimeoutCancelPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderTimeoutCancel, body), nil
}
