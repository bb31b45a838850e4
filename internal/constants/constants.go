package constants

// 订单状态常量
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusCompleted      = "completed"
	OrderStatusCanceled       = "canceled"
)

// 支付宝回调常量
const (
	AlipayTradeStatusSuccess      = "TRADE_SUCCESS"
	AlipayTradeStatusFinished     = "TRADE_FINISHED"
	AlipayTradeStatusClosed       = "TRADE_CLOSED"
	AlipayTradeStatusWaitBuyerPay = "WAIT_BUYER_PAY"
	AlipayCallbackSuccess         = "success"
	AlipayCallbackFail            = "fail"
)

// 队列常量
const (
	QueueDefault           = "default"
	TaskOrderPaidNotify    = "order:paid_notify"
	TaskOrderTimeoutCancel = "order:timeout_cancel"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "pp"
)

// 币种常量
const (
	SiteCurrencyDefault = "CNY"
)
