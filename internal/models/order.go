package models

import (
	"time"

	"gorm.io/gorm"
)

// Order 订单表
type Order struct {
	ID         uint           `gorm:"primarykey" json:"id"`                                  // 主键
	OrderNo    string         `gorm:"uniqueIndex;not null" json:"order_no"`                  // 订单编号
	PlanID     uint           `gorm:"index;not null" json:"plan_id"`                         // 套餐ID
	Email      string         `gorm:"index" json:"email,omitempty"`                          // 买家邮箱
	Status     string         `gorm:"index;not null" json:"status"`                          // 订单状态
	Currency   string         `gorm:"not null" json:"currency"`                              // 币种
	Amount     Money          `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`   // 实付金额
	TradeNo    string         `gorm:"index" json:"trade_no,omitempty"`                       // 网关交易号
	QRCode     string         `gorm:"type:text" json:"qr_code,omitempty"`                    // 收款二维码内容
	ClientIP   string         `gorm:"type:varchar(64)" json:"client_ip,omitempty"`           // 下单客户端IP
	ExpiresAt  *time.Time     `gorm:"index" json:"expires_at"`                               // 过期时间
	PaidAt     *time.Time     `gorm:"index" json:"paid_at"`                                  // 支付时间
	CanceledAt *time.Time     `gorm:"index" json:"canceled_at"`                              // 取消时间
	NotifiedAt *time.Time     `json:"notified_at,omitempty"`                                 // 支付成功通知处理时间
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`                               // 创建时间
	UpdatedAt  time.Time      `gorm:"index" json:"updated_at"`                               // 更新时间
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`                                        // 软删除时间

	Plan *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"` // 关联套餐
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
