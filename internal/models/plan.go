package models

import (
	"time"

	"gorm.io/gorm"
)

// Plan 订阅套餐表
type Plan struct {
	ID           uint           `gorm:"primarykey" json:"id"`                               // 主键
	Slug         string         `gorm:"uniqueIndex;not null" json:"slug"`                   // 套餐标识
	Name         string         `gorm:"not null" json:"name"`                               // 套餐名称
	Description  string         `gorm:"type:text" json:"description,omitempty"`             // 套餐描述
	Price        Money          `gorm:"type:decimal(20,2);not null;default:0" json:"price"` // 套餐价格
	Currency     string         `gorm:"not null" json:"currency"`                           // 币种
	DurationDays int            `gorm:"not null;default:30" json:"duration_days"`           // 订阅时长（天）
	Enabled      bool           `gorm:"index;not null" json:"enabled"`                      // 是否上架
	SortOrder    int            `gorm:"index;not null;default:0" json:"sort_order"`         // 排序权重
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`                            // 创建时间
	UpdatedAt    time.Time      `gorm:"index" json:"updated_at"`                            // 更新时间
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`                                     // 软删除时间
}

// TableName 指定表名
func (Plan) TableName() string {
	return "plans"
}
