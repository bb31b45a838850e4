package public

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/planpay-next/internal/config"
	"github.com/planpay-next/internal/constants"
	"github.com/planpay-next/internal/models"
	"github.com/planpay-next/internal/payment/alipay"
	"github.com/planpay-next/internal/provider"
	"github.com/planpay-next/internal/queue"
	"github.com/planpay-next/internal/repository"
	"github.com/planpay-next/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const testAppID = "2026000000000001"

type handlerTestEnv struct {
	router         *gin.Engine
	db             *gorm.DB
	orderService   *service.OrderService
	gatewayPrivate string
}

func generateHandlerKeyPair(t *testing.T) (string, string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key failed: %v", err)
	}
	privateKeyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("marshal private key failed: %v", err)
	}
	publicKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key failed: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyDER})
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyDER})
	return string(privatePEM), string(publicPEM)
}

func setupHandlerTest(t *testing.T, gatewayURL string) *handlerTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:public_handler_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.Plan{}, &models.Order{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	plan := models.Plan{
		Slug:     "starter",
		Name:     "Starter",
		Price:    models.NewMoneyFromDecimal(decimal.NewFromInt(20)),
		Currency: constants.SiteCurrencyDefault,
		Enabled:  true,
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("create plan failed: %v", err)
	}

	merchantPrivate, _ := generateHandlerKeyPair(t)
	gatewayPrivate, gatewayPublic := generateHandlerKeyPair(t)
	if gatewayURL == "" {
		gatewayURL = "https://openapi.alipay.com"
	}
	alipayClient, err := alipay.NewClient(&alipay.Config{
		AppID:           testAppID,
		PrivateKey:      merchantPrivate,
		AlipayPublicKey: gatewayPublic,
		GatewayURL:      gatewayURL,
	})
	if err != nil {
		t.Fatalf("new alipay client failed: %v", err)
	}
	queueClient, err := queue.NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new queue client failed: %v", err)
	}

	orderRepo := repository.NewOrderRepository(db)
	planRepo := repository.NewPlanRepository(db)
	container := &provider.Container{
		Config:         &config.Config{},
		QueueClient:    queueClient,
		AlipayClient:   alipayClient,
		PlanRepo:       planRepo,
		OrderRepo:      orderRepo,
		PlanService:    service.NewPlanService(planRepo),
		OrderService:   service.NewOrderService(orderRepo, planRepo, queueClient, 15),
		PaymentService: service.NewPaymentService(orderRepo, alipayClient, queueClient, testAppID),
	}
	handler := New(container)

	r := gin.New()
	r.GET("/api/v1/public/plans", handler.ListPlans)
	r.POST("/api/v1/guest/orders", handler.CreateOrder)
	r.GET("/api/v1/guest/orders", handler.ListOrders)
	r.GET("/api/v1/guest/orders/:order_no", handler.GetOrder)
	r.POST("/api/v1/payments/callback", handler.AlipayCallback)

	return &handlerTestEnv{
		router:         r,
		db:             db,
		orderService:   container.OrderService,
		gatewayPrivate: gatewayPrivate,
	}
}

func (env *handlerTestEnv) createOrder(t *testing.T) *models.Order {
	t.Helper()
	order, err := env.orderService.CreateOrder(service.CreateOrderInput{
		PlanSlug: "starter",
		Email:    "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func (env *handlerTestEnv) postCallback(t *testing.T, params map[string]string, privateKeyPEM string) *httptest.ResponseRecorder {
	t.Helper()
	sign, err := alipay.SignParams(params, privateKeyPEM, alipay.SignTypeRSA2)
	if err != nil {
		t.Fatalf("sign callback failed: %v", err)
	}
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("sign", sign)
	form.Set("sign_type", alipay.SignTypeRSA2)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env.router.ServeHTTP(w, req)
	return w
}

func TestAlipayCallbackLegit(t *testing.T) {
	env := setupHandlerTest(t, "")
	order := env.createOrder(t)

	w := env.postCallback(t, map[string]string{
		"app_id":       testAppID,
		"out_trade_no": order.OrderNo,
		"trade_no":     "2026090122001400001234567890",
		"trade_status": constants.AlipayTradeStatusSuccess,
		"total_amount": "20.00",
		"notify_id":    "notify-handler-1",
	}, env.gatewayPrivate)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if w.Body.String() != constants.AlipayCallbackSuccess {
		t.Fatalf("body want success got %s", w.Body.String())
	}

	var stored models.Order
	if err := env.db.Where("order_no = ?", order.OrderNo).First(&stored).Error; err != nil {
		t.Fatalf("load order failed: %v", err)
	}
	if stored.Status != constants.OrderStatusPaid {
		t.Fatalf("order not paid: %s", stored.Status)
	}
}

func TestAlipayCallbackForged(t *testing.T) {
	env := setupHandlerTest(t, "")
	order := env.createOrder(t)

	attackerPrivate, _ := generateHandlerKeyPair(t)
	w := env.postCallback(t, map[string]string{
		"app_id":       testAppID,
		"out_trade_no": order.OrderNo,
		"trade_no":     "forged",
		"trade_status": constants.AlipayTradeStatusSuccess,
		"total_amount": "20.00",
	}, attackerPrivate)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if w.Body.String() != constants.AlipayCallbackFail {
		t.Fatalf("body want fail got %s", w.Body.String())
	}

	var stored models.Order
	if err := env.db.Where("order_no = ?", order.OrderNo).First(&stored).Error; err != nil {
		t.Fatalf("load order failed: %v", err)
	}
	if stored.Status != constants.OrderStatusPendingPayment {
		t.Fatalf("forged callback must not change state: %s", stored.Status)
	}
}

func TestAlipayCallbackEmptyForm(t *testing.T) {
	env := setupHandlerTest(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", nil)
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if w.Body.String() != constants.AlipayCallbackFail {
		t.Fatalf("body want fail got %s", w.Body.String())
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"alipay_trade_precreate_response":{"code":"10000","msg":"Success","trade_no":"trade-1","qr_code":"https://qr.alipay.com/bax00002"},"sign":"x"}`)
	}))
	defer gateway.Close()

	env := setupHandlerTest(t, gateway.URL)

	w := httptest.NewRecorder()
	body := `{"plan_slug":"starter","email":"buyer@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/guest/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	var resp struct {
		StatusCode int `json:"status_code"`
		Data       struct {
			QRCode string `json:"qr_code"`
			Order  struct {
				OrderNo string `json:"order_no"`
				Status  string `json:"status"`
				Amount  string `json:"amount"`
			} `json:"order"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp.StatusCode != 0 {
		t.Fatalf("status_code want 0 got %d", resp.StatusCode)
	}
	if resp.Data.QRCode != "https://qr.alipay.com/bax00002" {
		t.Fatalf("unexpected qr code: %s", resp.Data.QRCode)
	}
	if resp.Data.Order.OrderNo == "" || resp.Data.Order.Status != constants.OrderStatusPendingPayment {
		t.Fatalf("unexpected order view: %+v", resp.Data.Order)
	}
	if resp.Data.Order.Amount != "20.00" {
		t.Fatalf("amount want 20.00 got %s", resp.Data.Order.Amount)
	}

	// 查询订单状态
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/guest/orders/"+resp.Data.Order.OrderNo, nil)
	env.router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("get order status want 200 got %d", w2.Code)
	}
	if !strings.Contains(w2.Body.String(), resp.Data.Order.OrderNo) {
		t.Fatalf("order no missing in response: %s", w2.Body.String())
	}
}

func TestCreateOrderEndpointBadRequest(t *testing.T) {
	env := setupHandlerTest(t, "")

	cases := []string{
		`{}`,
		`{"plan_slug":"starter"}`,
		`{"plan_slug":"starter","email":"not-an-email"}`,
		`{"plan_slug":"missing","email":"a@example.com"}`,
		`not json`,
	}
	for i, body := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/guest/orders", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		env.router.ServeHTTP(w, req)
		var resp struct {
			StatusCode int `json:"status_code"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("case %d: unmarshal failed: %v", i, err)
		}
		if resp.StatusCode == 0 {
			t.Fatalf("case %d: expected error status_code, got 0", i)
		}
	}
}

func TestListOrdersEndpoint(t *testing.T) {
	env := setupHandlerTest(t, "")
	first := env.createOrder(t)
	second := env.createOrder(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/guest/orders?email=Buyer@Example.com", nil)
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	var resp struct {
		StatusCode int `json:"status_code"`
		Data       struct {
			Orders []struct {
				OrderNo string `json:"order_no"`
			} `json:"orders"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if len(resp.Data.Orders) != 2 {
		t.Fatalf("orders want 2 got %d", len(resp.Data.Orders))
	}
	// 新单在前
	if resp.Data.Orders[0].OrderNo != second.OrderNo || resp.Data.Orders[1].OrderNo != first.OrderNo {
		t.Fatalf("unexpected order listing: %+v", resp.Data.Orders)
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/guest/orders?email=not-an-email", nil)
	env.router.ServeHTTP(w2, req2)
	var resp2 struct {
		StatusCode int `json:"status_code"`
	}
	if err := json.Unmarshal(w2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp2.StatusCode == 0 {
		t.Fatalf("invalid email should fail, got status_code 0")
	}
}

func TestListPlansEndpoint(t *testing.T) {
	env := setupHandlerTest(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/plans", nil)
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"starter"`) {
		t.Fatalf("plan slug missing in response: %s", w.Body.String())
	}
}
