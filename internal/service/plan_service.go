package service

import (
	"context"
	"strings"
	"time"

	"github.com/planpay-next/internal/cache"
	"github.com/planpay-next/internal/logger"
	"github.com/planpay-next/internal/models"
	"github.com/planpay-next/internal/repository"
)

const (
	planListCacheKey = "plans:enabled"
	planListCacheTTL = 5 * time.Minute
)

// PlanService 套餐服务
type PlanService struct {
	planRepo repository.PlanRepository
}

// NewPlanService 创建套餐服务
func NewPlanService(planRepo repository.PlanRepository) *PlanService {
	return &PlanService{planRepo: planRepo}
}

// ListEnabled 获取可售套餐列表（带缓存）
func (s *PlanService) ListEnabled() ([]models.Plan, error) {
	ctx := context.Background()
	var cached []models.Plan
	if hit, err := cache.GetJSON(ctx, planListCacheKey, &cached); err != nil {
		logger.Warnw("plan_list_cache_read_failed", "error", err)
	} else if hit {
		return cached, nil
	}

	plans, err := s.planRepo.ListEnabled()
	if err != nil {
		logger.Errorw("plan_list_failed", "error", err)
		return nil, err
	}
	if err := cache.SetJSON(ctx, planListCacheKey, plans, planListCacheTTL); err != nil {
		logger.Warnw("plan_list_cache_write_failed", "error", err)
	}
	return plans, nil
}

// GetBySlug 获取上架套餐详情
func (s *PlanService) GetBySlug(slug string) (*models.Plan, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrPlanNotFound
	}
	plan, err := s.planRepo.GetBySlug(slug, true)
	if err != nil {
		logger.Errorw("plan_fetch_failed", "plan_slug", slug, "error", err)
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}
