package repository

import (
	"errors"
	"time"

	"github.com/planpay-next/internal/constants"
	"github.com/planpay-next/internal/models"

	"gorm.io/gorm"
)

// OrderRepository 订单数据访问接口
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	GetByOrderNo(orderNo string) (*models.Order, error)
	ListByEmail(email string, limit int) ([]models.Order, error)
	ListExpiredPending(now time.Time, limit int) ([]models.Order, error)
	UpdateStatus(id uint, status string, updates map[string]interface{}) error
	MarkPaid(orderNo, tradeNo string, paidAt time.Time) (int64, error)
	MarkCanceled(id uint, canceledAt time.Time) (int64, error)
	MarkNotified(id uint, notifiedAt time.Time) error
	WithTx(tx *gorm.DB) *GormOrderRepository
	Transaction(fn func(tx *gorm.DB) error) error
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) *GormOrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Transaction 执行事务
func (r *GormOrderRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// Create 创建订单
func (r *GormOrderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByID 根据 ID 获取订单
func (r *GormOrderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.Preload("Plan").First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo 根据订单号获取订单
func (r *GormOrderRepository) GetByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Preload("Plan").Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ListByEmail 按邮箱列出订单（新单在前）
func (r *GormOrderRepository) ListByEmail(email string, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.Preload("Plan").Where("email = ?", email).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListExpiredPending 获取已过期的待支付订单
func (r *GormOrderRepository) ListExpiredPending(now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		constants.OrderStatusPendingPayment, now)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("expires_at ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus 更新订单状态及附加字段
func (r *GormOrderRepository) UpdateStatus(id uint, status string, updates map[string]interface{}) error {
	values := map[string]interface{}{"status": status}
	for k, v := range updates {
		values[k] = v
	}
	return r.db.Model(&models.Order{}).Where("id = ?", id).Updates(values).Error
}

// MarkPaid 将待支付订单置为已支付（条件更新保证幂等）。
// 返回受影响行数：0 表示订单不存在或已非待支付状态。
func (r *GormOrderRepository) MarkPaid(orderNo, tradeNo string, paidAt time.Time) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("order_no = ? AND status = ?", orderNo, constants.OrderStatusPendingPayment).
		Updates(map[string]interface{}{
			"status":   constants.OrderStatusPaid,
			"trade_no": tradeNo,
			"paid_at":  paidAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MarkCanceled 将待支付订单置为已取消（条件更新，与 MarkPaid 同一幂等模式）。
// 返回受影响行数：0 表示订单不存在或已非待支付状态，例如取消与支付回调并发时支付先落库。
func (r *GormOrderRepository) MarkCanceled(id uint, canceledAt time.Time) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", id, constants.OrderStatusPendingPayment).
		Updates(map[string]interface{}{
			"status":      constants.OrderStatusCanceled,
			"canceled_at": canceledAt,
			"updated_at":  canceledAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MarkNotified 记录支付成功通知处理时间
func (r *GormOrderRepository) MarkNotified(id uint, notifiedAt time.Time) error {
	return r.db.Model(&models.Order{}).
		Where("id = ?", id).
		Update("notified_at", notifiedAt).Error
}
