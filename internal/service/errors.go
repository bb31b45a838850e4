package service

import "errors"

// 服务层哨兵错误
var (
	ErrEmailInvalid        = errors.New("email invalid")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderFetchFailed    = errors.New("order fetch failed")
	ErrOrderCreateFailed   = errors.New("order create failed")
	ErrOrderUpdateFailed   = errors.New("order update failed")
	ErrOrderStatusInvalid  = errors.New("order status invalid")
	ErrPaymentCreateFailed = errors.New("payment create failed")
)
