package alipay

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func buildTestClientConfig(t *testing.T, gatewayURL string) (*Config, string) {
	t.Helper()
	privateKeyPEM, publicKeyPEM := generateTestKeyPair(t)
	return &Config{
		AppID:           "2026000000000000",
		PrivateKey:      privateKeyPEM,
		AlipayPublicKey: publicKeyPEM,
		SignType:        SignTypeRSA2,
		GatewayURL:      gatewayURL,
		NotifyURL:       "https://example.com/api/v1/payments/callback",
	}, privateKeyPEM
}

func TestNewClientFailsClosedWithoutTrustMaterial(t *testing.T) {
	privateKeyPEM, _ := generateTestKeyPair(t)
	_, err := NewClient(&Config{
		AppID:      "2026000000000000",
		PrivateKey: privateKeyPEM,
		GatewayURL: "https://openapi.alipay.com/gateway.do",
	})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid without trust material, got %v", err)
	}
}

func TestNewClientRejectsPartialCertTriple(t *testing.T) {
	privateKeyPEM, _ := generateTestKeyPair(t)
	appCert, _ := generateTestCert(t, "App Cert", 10)
	_, err := NewClient(&Config{
		AppID:      "2026000000000000",
		PrivateKey: privateKeyPEM,
		GatewayURL: "https://openapi.alipay.com/gateway.do",
		AppCert:    appCert,
	})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for partial cert triple, got %v", err)
	}
}

func TestNewClientCertMode(t *testing.T) {
	privateKeyPEM, _ := generateTestKeyPair(t)
	appCert, _ := generateTestCert(t, "App Cert", 11)
	alipayCert, alipayKey := generateTestCert(t, "Alipay Cert", 12)
	rootA, _ := generateTestCert(t, "Root 1", 13)
	rootB, _ := generateTestCert(t, "Root 2", 14)

	client, err := NewClient(&Config{
		AppID:            "2026000000000000",
		PrivateKey:       privateKeyPEM,
		GatewayURL:       "https://openapi.alipay.com/gateway.do",
		AppCert:          appCert,
		AlipayPublicCert: alipayCert,
		RootCert:         rootA + rootB,
	})
	if err != nil {
		t.Fatalf("cert mode client failed: %v", err)
	}
	if !client.CertMode() {
		t.Fatalf("expected cert mode")
	}
	wantAppSN, _ := GetSN([]byte(appCert), false)
	if client.trust.appCertSN != wantAppSN {
		t.Fatalf("app cert sn mismatch: %s vs %s", client.trust.appCertSN, wantAppSN)
	}
	if got := len(strings.Split(client.trust.rootCertSN, "_")); got != 2 {
		t.Fatalf("expected 2 root sn segments, got %d", got)
	}
	// 证书模式下验签公钥来自支付宝公钥证书
	verifyKey, err := parsePublicKey(client.trust.verifyKey)
	if err != nil {
		t.Fatalf("verify key invalid: %v", err)
	}
	if verifyKey.N.Cmp(alipayKey.PublicKey.N) != 0 {
		t.Fatalf("verify key must come from alipay public cert")
	}

	params, err := client.buildParams(MethodTradePrecreate, PrecreateInput{OutTradeNo: "abc", TotalAmount: "1.00"})
	if err != nil {
		t.Fatalf("build params failed: %v", err)
	}
	if params["app_cert_sn"] != wantAppSN || params["alipay_root_cert_sn"] == "" {
		t.Fatalf("cert sn params missing: %v", params)
	}
}

func TestPrecreateHappyPath(t *testing.T) {
	var cfg *Config
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
			return
		}
		if r.Form.Get("method") != "alipay.trade.precreate" {
			t.Errorf("unexpected method: %s", r.Form.Get("method"))
			return
		}
		var bizContent map[string]string
		if err := json.Unmarshal([]byte(r.Form.Get("biz_content")), &bizContent); err != nil {
			t.Errorf("biz_content not json: %v", err)
			return
		}
		if bizContent["out_trade_no"] != "abc123" || bizContent["total_amount"] != "20.00" || bizContent["subject"] != "Starter" {
			t.Errorf("unexpected biz_content: %v", bizContent)
			return
		}
		// 网关侧视角：请求签名覆盖除 sign 外的全部参数（含 sign_type）
		params := make(map[string]string, len(r.Form))
		for key := range r.Form {
			params[key] = r.Form.Get(key)
		}
		merchantPublicKey, err := parsePublicKey(cfg.AlipayPublicKey)
		if err != nil {
			t.Errorf("parse merchant public key failed: %v", err)
			return
		}
		signBytes, err := base64.StdEncoding.DecodeString(r.Form.Get("sign"))
		if err != nil {
			t.Errorf("decode request sign failed: %v", err)
			return
		}
		hashType, digest := digestContent(buildSignContent(params), SignTypeRSA2)
		if rsa.VerifyPKCS1v15(merchantPublicKey, hashType, digest, signBytes) != nil {
			t.Errorf("request signature invalid")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"alipay_trade_precreate_response": map[string]interface{}{
				"code":         "10000",
				"msg":          "Success",
				"out_trade_no": "abc123",
				"trade_no":     "2024021900001",
				"qr_code":      "https://qr.alipay.com/abc",
			},
			"sign": "gateway-sign",
		})
	}))
	defer server.Close()

	cfg, _ = buildTestClientConfig(t, server.URL)
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	result, err := client.Precreate(context.Background(), PrecreateInput{
		OutTradeNo:  "abc123",
		TotalAmount: "20.00",
		Subject:     "Starter",
	})
	if err != nil {
		t.Fatalf("precreate failed: %v", err)
	}
	if result.TradeNo != "2024021900001" || result.QRCode != "https://qr.alipay.com/abc" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPrecreateCamelCaseFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"alipay_trade_precreate_response": map[string]interface{}{
				"code":    "10000",
				"tradeNo": "2024021900002",
				"qrCode":  "https://qr.alipay.com/camel",
			},
		})
	}))
	defer server.Close()

	cfg, _ := buildTestClientConfig(t, server.URL)
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	result, err := client.Precreate(context.Background(), PrecreateInput{OutTradeNo: "abc124", TotalAmount: "9.90"})
	if err != nil {
		t.Fatalf("precreate failed: %v", err)
	}
	if result.TradeNo != "2024021900002" || result.QRCode != "https://qr.alipay.com/camel" {
		t.Fatalf("camelCase fields not accepted: %+v", result)
	}
}

func TestPrecreateBusinessError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"alipay_trade_precreate_response": map[string]interface{}{
				"code":     "40004",
				"msg":      "Business Failed",
				"sub_code": "ACQ.INSUFFICIENT_BALANCE",
				"sub_msg":  "insufficient balance",
			},
			"trace_id": "trace-1",
		})
	}))
	defer server.Close()

	cfg, _ := buildTestClientConfig(t, server.URL)
	client, _ := NewClient(cfg)
	_, err := client.Precreate(context.Background(), PrecreateInput{OutTradeNo: "abc125", TotalAmount: "5.00"})
	var bizErr *BusinessError
	if !errors.As(err, &bizErr) {
		t.Fatalf("expected BusinessError, got %v", err)
	}
	if bizErr.Code != "40004" || bizErr.SubMsg != "insufficient balance" || bizErr.TraceID != "trace-1" {
		t.Fatalf("business error fields missing: %+v", bizErr)
	}
}

func TestPrecreateProtocolErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", "<html>bad gateway page</html>"},
		{"missing_envelope", `{"error_response":{"code":"20000"}}`},
		{"success_without_qr", `{"alipay_trade_precreate_response":{"code":"10000","trade_no":"X"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()
			cfg, _ := buildTestClientConfig(t, server.URL)
			client, _ := NewClient(cfg)
			_, err := client.Precreate(context.Background(), PrecreateInput{OutTradeNo: "abc", TotalAmount: "1.00"})
			if !errors.Is(err, ErrResponseInvalid) {
				t.Fatalf("expected ErrResponseInvalid, got %v", err)
			}
		})
	}
}

func TestPrecreateFallbackGateway(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"alipay_trade_precreate_response": map[string]interface{}{
				"code":    "10000",
				"qr_code": "https://qr.alipay.com/fallback",
			},
		})
	}))
	defer healthy.Close()

	cfg, _ := buildTestClientConfig(t, broken.URL)
	cfg.FallbackGatewayURLs = []string{healthy.URL}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	result, err := client.Precreate(context.Background(), PrecreateInput{OutTradeNo: "abc", TotalAmount: "1.00"})
	if err != nil {
		t.Fatalf("fallback gateway not used: %v", err)
	}
	if result.QRCode != "https://qr.alipay.com/fallback" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPrecreateAggregatesTransportDiagnostics(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer second.Close()

	cfg, _ := buildTestClientConfig(t, first.URL)
	cfg.FallbackGatewayURLs = []string{second.URL}
	client, _ := NewClient(cfg)
	_, err := client.Precreate(context.Background(), PrecreateInput{OutTradeNo: "abc", TotalAmount: "1.00"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	message := err.Error()
	if !strings.Contains(message, "status 502") || !strings.Contains(message, "status 503") {
		t.Fatalf("diagnostics from all attempts must be aggregated: %s", message)
	}
}

func TestVerifyNotify(t *testing.T) {
	cfg, privateKeyPEM := buildTestClientConfig(t, "https://openapi.alipay.com/gateway.do")
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	params := map[string]string{
		"notify_id":    "notify-1",
		"out_trade_no": "abc123",
		"trade_no":     "2024021900009",
		"trade_status": "TRADE_SUCCESS",
		"total_amount": "20.00",
	}
	sign, err := SignParams(params, privateKeyPEM, SignTypeRSA2)
	if err != nil {
		t.Fatalf("sign notify failed: %v", err)
	}
	form := map[string][]string{}
	for key, value := range params {
		form[key] = []string{value}
	}
	form["sign"] = []string{sign}
	form["sign_type"] = []string{SignTypeRSA2}

	if !client.VerifyNotify(form) {
		t.Fatalf("legitimate notify rejected")
	}

	// 用另一把私钥伪造的通知必须被拒绝
	forgedPrivateKey, _ := generateTestKeyPair(t)
	forgedSign, err := SignParams(params, forgedPrivateKey, SignTypeRSA2)
	if err != nil {
		t.Fatalf("forge sign failed: %v", err)
	}
	form["sign"] = []string{forgedSign}
	if client.VerifyNotify(form) {
		t.Fatalf("forged notify accepted")
	}

	delete(form, "sign")
	if client.VerifyNotify(form) {
		t.Fatalf("notify without sign accepted")
	}
	if client.VerifyNotify(nil) {
		t.Fatalf("empty form accepted")
	}
}

func TestPrecreateContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg, _ := buildTestClientConfig(t, server.URL)
	client, _ := NewClient(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Precreate(ctx, PrecreateInput{OutTradeNo: "abc", TotalAmount: "1.00"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed on cancel, got %v", err)
	}
}
