package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/planpay-next/internal/constants"
	"github.com/planpay-next/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupOrderRepositoryTest(t *testing.T) (*GormOrderRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:order_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Plan{},
		&models.Order{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewOrderRepository(db), db
}

func createTestOrder(t *testing.T, db *gorm.DB, orderNo, status string, expiresAt *time.Time) models.Order {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	order := models.Order{
		OrderNo:   orderNo,
		PlanID:    1,
		Email:     "buyer@example.com",
		Status:    status,
		Currency:  "CNY",
		Amount:    models.NewMoneyFromDecimal(decimal.NewFromInt(20)),
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func TestOrderRepositoryMarkPaidIdempotent(t *testing.T) {
	repo, db := setupOrderRepositoryTest(t)
	order := createTestOrder(t, db, "PPTEST001", constants.OrderStatusPendingPayment, nil)

	paidAt := time.Now().UTC().Truncate(time.Second)
	affected, err := repo.MarkPaid(order.OrderNo, "2026090122001400001234567890", paidAt)
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("first mark paid affected want 1 got %d", affected)
	}

	// 重复回调：条件更新应不再命中
	affected, err = repo.MarkPaid(order.OrderNo, "2026090122001400001234567890", paidAt)
	if err != nil {
		t.Fatalf("second mark paid failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("second mark paid affected want 0 got %d", affected)
	}

	got, err := repo.GetByOrderNo(order.OrderNo)
	if err != nil {
		t.Fatalf("get by order no failed: %v", err)
	}
	if got == nil || got.Status != constants.OrderStatusPaid {
		t.Fatalf("order not marked paid: %+v", got)
	}
	if got.TradeNo != "2026090122001400001234567890" {
		t.Fatalf("trade no not stored: %s", got.TradeNo)
	}
	if got.PaidAt == nil {
		t.Fatalf("paid_at not stored")
	}
}

func TestOrderRepositoryMarkPaidUnknownOrder(t *testing.T) {
	repo, _ := setupOrderRepositoryTest(t)
	affected, err := repo.MarkPaid("PPUNKNOWN", "trade-x", time.Now())
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("unknown order affected want 0 got %d", affected)
	}
}

func TestOrderRepositoryListExpiredPending(t *testing.T) {
	repo, db := setupOrderRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := createTestOrder(t, db, "PPEXPIRED", constants.OrderStatusPendingPayment, &past)
	createTestOrder(t, db, "PPPENDING", constants.OrderStatusPendingPayment, &future)
	createTestOrder(t, db, "PPPAID", constants.OrderStatusPaid, &past)

	orders, err := repo.ListExpiredPending(now, 10)
	if err != nil {
		t.Fatalf("list expired pending failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expired orders want 1 got %d", len(orders))
	}
	if orders[0].OrderNo != expired.OrderNo {
		t.Fatalf("unexpected expired order: %s", orders[0].OrderNo)
	}
}

func TestOrderRepositoryMarkCanceledConditional(t *testing.T) {
	repo, db := setupOrderRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)

	pending := createTestOrder(t, db, "PPCOND001", constants.OrderStatusPendingPayment, nil)
	affected, err := repo.MarkCanceled(pending.ID, now)
	if err != nil {
		t.Fatalf("mark canceled failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("pending cancel affected want 1 got %d", affected)
	}
	got, err := repo.GetByID(pending.ID)
	if err != nil {
		t.Fatalf("get by id failed: %v", err)
	}
	if got == nil || got.Status != constants.OrderStatusCanceled || got.CanceledAt == nil {
		t.Fatalf("order not canceled: %+v", got)
	}

	// 支付已先落库：取消不得覆盖已支付状态
	paid := createTestOrder(t, db, "PPCOND002", constants.OrderStatusPaid, nil)
	affected, err = repo.MarkCanceled(paid.ID, now)
	if err != nil {
		t.Fatalf("mark canceled on paid order failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("paid cancel affected want 0 got %d", affected)
	}
	got, err = repo.GetByID(paid.ID)
	if err != nil {
		t.Fatalf("get by id failed: %v", err)
	}
	if got == nil || got.Status != constants.OrderStatusPaid {
		t.Fatalf("paid order overwritten by cancel: %+v", got)
	}
}

func TestOrderRepositoryListByEmail(t *testing.T) {
	repo, db := setupOrderRepositoryTest(t)
	first := createTestOrder(t, db, "PPMAIL001", constants.OrderStatusPendingPayment, nil)
	second := createTestOrder(t, db, "PPMAIL002", constants.OrderStatusPaid, nil)

	other := createTestOrder(t, db, "PPMAIL003", constants.OrderStatusPendingPayment, nil)
	if err := db.Model(&models.Order{}).Where("id = ?", other.ID).
		Update("email", "other@example.com").Error; err != nil {
		t.Fatalf("update email failed: %v", err)
	}

	orders, err := repo.ListByEmail("buyer@example.com", 10)
	if err != nil {
		t.Fatalf("list by email failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders want 2 got %d", len(orders))
	}
	if orders[0].OrderNo != second.OrderNo || orders[1].OrderNo != first.OrderNo {
		t.Fatalf("expected newest first, got %s then %s", orders[0].OrderNo, orders[1].OrderNo)
	}

	limited, err := repo.ListByEmail("buyer@example.com", 1)
	if err != nil {
		t.Fatalf("list by email with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].OrderNo != second.OrderNo {
		t.Fatalf("unexpected limited listing: %+v", limited)
	}
}

func TestOrderRepositoryUpdateStatus(t *testing.T) {
	repo, db := setupOrderRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)
	order := createTestOrder(t, db, "PPCANCEL", constants.OrderStatusPendingPayment, nil)

	if err := repo.UpdateStatus(order.ID, constants.OrderStatusCanceled, map[string]interface{}{
		"canceled_at": now,
	}); err != nil {
		t.Fatalf("update status failed: %v", err)
	}

	got, err := repo.GetByID(order.ID)
	if err != nil {
		t.Fatalf("get by id failed: %v", err)
	}
	if got == nil || got.Status != constants.OrderStatusCanceled {
		t.Fatalf("order not canceled: %+v", got)
	}
	if got.CanceledAt == nil {
		t.Fatalf("canceled_at not stored")
	}
}

func TestPlanRepositoryListEnabled(t *testing.T) {
	_, db := setupOrderRepositoryTest(t)
	planRepo := NewPlanRepository(db)

	plans := []models.Plan{
		{Slug: "starter", Name: "Starter", Price: models.NewMoneyFromDecimal(decimal.NewFromInt(20)), Currency: "CNY", Enabled: true, SortOrder: 1},
		{Slug: "pro", Name: "Pro", Price: models.NewMoneyFromDecimal(decimal.NewFromInt(50)), Currency: "CNY", Enabled: true, SortOrder: 9},
		{Slug: "legacy", Name: "Legacy", Price: models.NewMoneyFromDecimal(decimal.NewFromInt(10)), Currency: "CNY", Enabled: false},
	}
	for i := range plans {
		if err := db.Create(&plans[i]).Error; err != nil {
			t.Fatalf("create plan failed: %v", err)
		}
	}

	enabled, err := planRepo.ListEnabled()
	if err != nil {
		t.Fatalf("list enabled failed: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("enabled plans want 2 got %d", len(enabled))
	}
	if enabled[0].Slug != "pro" {
		t.Fatalf("expected sort_order desc, got first=%s", enabled[0].Slug)
	}

	disabled, err := planRepo.GetBySlug("legacy", true)
	if err != nil {
		t.Fatalf("get by slug failed: %v", err)
	}
	if disabled != nil {
		t.Fatalf("disabled plan must not be returned when onlyEnabled")
	}
}
