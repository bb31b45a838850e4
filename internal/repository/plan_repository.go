package repository

import (
	"errors"

	"github.com/planpay-next/internal/models"

	"gorm.io/gorm"
)

// PlanRepository 套餐数据访问接口
type PlanRepository interface {
	ListEnabled() ([]models.Plan, error)
	GetBySlug(slug string, onlyEnabled bool) (*models.Plan, error)
	GetByID(id uint) (*models.Plan, error)
	Create(plan *models.Plan) error
	Update(plan *models.Plan) error
	CountBySlug(slug string) (int64, error)
}

// GormPlanRepository GORM 实现
type GormPlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository 创建套餐仓库
func NewPlanRepository(db *gorm.DB) *GormPlanRepository {
	return &GormPlanRepository{db: db}
}

// ListEnabled 获取上架套餐列表
func (r *GormPlanRepository) ListEnabled() ([]models.Plan, error) {
	var plans []models.Plan
	if err := r.db.Where("enabled = ?", true).
		Order("sort_order DESC, id ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// GetBySlug 根据 slug 获取套餐
func (r *GormPlanRepository) GetBySlug(slug string, onlyEnabled bool) (*models.Plan, error) {
	query := r.db.Where("slug = ?", slug)
	if onlyEnabled {
		query = query.Where("enabled = ?", true)
	}
	var plan models.Plan
	if err := query.First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// GetByID 根据 ID 获取套餐
func (r *GormPlanRepository) GetByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// Create 创建套餐
func (r *GormPlanRepository) Create(plan *models.Plan) error {
	return r.db.Create(plan).Error
}

// Update 更新套餐
func (r *GormPlanRepository) Update(plan *models.Plan) error {
	return r.db.Save(plan).Error
}

// CountBySlug 统计 slug 数量
func (r *GormPlanRepository) CountBySlug(slug string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Plan{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
