package alipay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	ErrConfigInvalid    = errors.New("alipay config invalid")
	ErrCertificateParse = errors.New("alipay certificate parse failed")
	ErrSignGenerate     = errors.New("alipay sign generate failed")
	ErrRequestFailed    = errors.New("alipay request failed")
	ErrResponseInvalid  = errors.New("alipay response invalid")
	ErrSignatureInvalid = errors.New("alipay signature invalid")
)

const (
	defaultTimeout = 12 * time.Second
	gatewayPath    = "/gateway.do"

	MethodTradePrecreate = "alipay.trade.precreate"

	codeSuccess = "10000"
)

// BusinessError 网关返回的非成功业务码，原样携带 code/sub_code 供调用方判定是否重试。
type BusinessError struct {
	Code    string
	Msg     string
	SubCode string
	SubMsg  string
	TraceID string
}

func (e *BusinessError) Error() string {
	message := strings.TrimSpace(e.SubMsg)
	if message == "" {
		message = strings.TrimSpace(e.Msg)
	}
	if message == "" {
		return fmt.Sprintf("alipay business error: code=%s", e.Code)
	}
	return fmt.Sprintf("alipay business error: code=%s sub_code=%s: %s", e.Code, e.SubCode, message)
}

// Config 网关客户端配置。
// 信任材料二选一：alipay_public_key（普通公钥模式），或 app_cert/alipay_public_cert/root_cert
// 证书三元组（证书模式，内容与路径都支持，内容优先）。
type Config struct {
	AppID      string `json:"app_id"`
	PrivateKey string `json:"private_key"`
	SignType   string `json:"sign_type"`

	AlipayPublicKey string `json:"alipay_public_key"`

	AppCert              string `json:"app_cert"`
	AppCertPath          string `json:"app_cert_path"`
	AlipayPublicCert     string `json:"alipay_public_cert"`
	AlipayPublicCertPath string `json:"alipay_public_cert_path"`
	RootCert             string `json:"root_cert"`
	RootCertPath         string `json:"root_cert_path"`

	GatewayURL          string   `json:"gateway_url"`
	FallbackGatewayURLs []string `json:"fallback_gateway_urls"`
	NotifyURL           string   `json:"notify_url"`
}

// trustMaterial 构造时解析出的信任材料：统一成一个验签公钥，证书模式额外携带证书序列号。
type trustMaterial struct {
	verifyKey  string
	appCertSN  string
	rootCertSN string
	certMode   bool
}

// Client 网关客户端。构造后不可变，可被并发使用。
type Client struct {
	appID      string
	privateKey string
	signType   string
	notifyURL  string
	gateways   []string
	trust      trustMaterial

	poolOnce sync.Once
	pool     *http.Client
}

// PrecreateInput 预下单输入。
type PrecreateInput struct {
	OutTradeNo  string
	TotalAmount string
	Subject     string
	NotifyURL   string
	ProductCode string
}

// PrecreateResult 预下单结果。
type PrecreateResult struct {
	TradeNo string
	QRCode  string
	Raw     map[string]interface{}
}

// NewClient 创建网关客户端。
// 配置校验与信任材料解析都在这里完成：缺失密钥或证书在启动期即失败，
// 不会出现没有验签材料却能收通知的客户端。
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, fmt.Errorf("%w: app_id is required", ErrConfigInvalid)
	}
	privateKey := normalizeKey(cfg.PrivateKey, "RSA PRIVATE KEY")
	if privateKey == "" {
		return nil, fmt.Errorf("%w: private_key is required", ErrConfigInvalid)
	}
	if _, err := parsePrivateKey(privateKey); err != nil {
		return nil, fmt.Errorf("%w: private_key is not a valid rsa key", ErrConfigInvalid)
	}
	signType := strings.ToUpper(strings.TrimSpace(cfg.SignType))
	if signType == "" {
		signType = SignTypeRSA2
	}
	if signType != SignTypeRSA && signType != SignTypeRSA2 {
		return nil, fmt.Errorf("%w: sign_type %s is not supported", ErrConfigInvalid, cfg.SignType)
	}

	gateways, err := resolveGateways(cfg)
	if err != nil {
		return nil, err
	}
	trust, err := resolveTrust(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		appID:      appID,
		privateKey: privateKey,
		signType:   signType,
		notifyURL:  strings.TrimSpace(cfg.NotifyURL),
		gateways:   gateways,
		trust:      trust,
	}, nil
}

// SignType 返回客户端配置的签名类型。
func (c *Client) SignType() string {
	return c.signType
}

// CertMode 返回是否为证书信任模式。
func (c *Client) CertMode() bool {
	return c.trust.certMode
}

// Precreate 发起预下单：组参 → 签名 → 传输 → 解包 → 提取。
// 组件内部不重试；传输失败包装为 ErrRequestFailed 交由调用方决策。
func (c *Client) Precreate(ctx context.Context, input PrecreateInput) (*PrecreateResult, error) {
	input.OutTradeNo = strings.TrimSpace(input.OutTradeNo)
	input.TotalAmount = strings.TrimSpace(input.TotalAmount)
	if input.OutTradeNo == "" || input.TotalAmount == "" {
		return nil, fmt.Errorf("%w: out_trade_no/total_amount is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(input.Subject) == "" {
		input.Subject = input.OutTradeNo
	}
	params, err := c.buildParams(MethodTradePrecreate, input)
	if err != nil {
		return nil, err
	}
	sign, err := SignParams(params, c.privateKey, c.signType)
	if err != nil {
		return nil, err
	}
	params["sign"] = sign

	body, err := c.transmit(ctx, params)
	if err != nil {
		return nil, err
	}
	node, raw, err := unwrapEnvelope(body, MethodTradePrecreate)
	if err != nil {
		return nil, err
	}
	return extractPrecreateResult(node, raw)
}

// VerifyNotify 校验异步通知签名。
// 入参为已解析的表单字段；返回 false 表示签名无效或载荷结构异常，调用方不得变更订单状态。
func (c *Client) VerifyNotify(form map[string][]string) bool {
	if len(form) == 0 {
		return false
	}
	params := make(map[string]string, len(form))
	for key, values := range form {
		key = strings.TrimSpace(key)
		if key == "" || len(values) == 0 {
			continue
		}
		params[key] = values[0]
	}
	return VerifyParams(params, c.trust.verifyKey, c.signType)
}

func (c *Client) buildParams(method string, input PrecreateInput) (map[string]string, error) {
	productCode := strings.TrimSpace(input.ProductCode)
	if productCode == "" {
		productCode = "FACE_TO_FACE_PAYMENT"
	}
	bizContent := map[string]interface{}{
		"out_trade_no": input.OutTradeNo,
		"total_amount": input.TotalAmount,
		"subject":      strings.TrimSpace(input.Subject),
		"product_code": productCode,
	}
	bizContentBytes, err := json.Marshal(bizContent)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal biz_content failed", ErrConfigInvalid)
	}
	notifyURL := strings.TrimSpace(input.NotifyURL)
	if notifyURL == "" {
		notifyURL = c.notifyURL
	}
	params := map[string]string{
		"app_id":      c.appID,
		"method":      method,
		"format":      "JSON",
		"charset":     "utf-8",
		"sign_type":   c.signType,
		"timestamp":   time.Now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"notify_url":  notifyURL,
		"biz_content": string(bizContentBytes),
	}
	if c.trust.certMode {
		params["app_cert_sn"] = c.trust.appCertSN
		params["alipay_root_cert_sn"] = c.trust.rootCertSN
	}
	return params, nil
}

// transmit 按顺序尝试每个网关端点，全部失败时聚合各端点的失败诊断。
func (c *Client) transmit(ctx context.Context, params map[string]string) ([]byte, error) {
	var attempts []string
	for _, gateway := range c.gateways {
		body, err := c.postGateway(ctx, gateway, params)
		if err == nil {
			return body, nil
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", gateway, err))
		// 上下文取消不再尝试后备端点
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: all gateways failed: %s", ErrRequestFailed, strings.Join(attempts, "; "))
}

func (c *Client) postGateway(ctx context.Context, gateway string, params map[string]string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	form := url.Values{}
	for key, value := range params {
		if key == "" || value == "" {
			continue
		}
		form.Set(key, value)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpPool().Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

// httpPool 惰性初始化共享连接池；sync.Once 保证并发首调只建一个。
func (c *Client) httpPool() *http.Client {
	c.poolOnce.Do(func() {
		c.pool = &http.Client{Timeout: defaultTimeout}
	})
	return c.pool
}

// unwrapEnvelope 解开网关的嵌套响应包裹：<method 点换下划线>_response。
func unwrapEnvelope(body []byte, method string) (map[string]interface{}, map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: decode response failed: %s", ErrResponseInvalid, truncateBody(body))
	}
	responseKey := strings.ReplaceAll(method, ".", "_") + "_response"
	node, ok := raw[responseKey].(map[string]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s not found: %s", ErrResponseInvalid, responseKey, truncateBody(body))
	}
	return node, raw, nil
}

func extractPrecreateResult(node, raw map[string]interface{}) (*PrecreateResult, error) {
	code := strings.TrimSpace(readString(node, "code"))
	if code != codeSuccess {
		return nil, &BusinessError{
			Code:    code,
			Msg:     strings.TrimSpace(readString(node, "msg")),
			SubCode: strings.TrimSpace(readString(node, "sub_code")),
			SubMsg:  strings.TrimSpace(readString(node, "sub_msg")),
			TraceID: strings.TrimSpace(readString(raw, "trace_id")),
		}
	}
	// REST 与 RPC 风格端点对字段大小写不一致，两种拼法都接受
	result := &PrecreateResult{
		TradeNo: firstNonEmpty(readString(node, "trade_no"), readString(node, "tradeNo")),
		QRCode:  firstNonEmpty(readString(node, "qr_code"), readString(node, "qrCode")),
		Raw:     raw,
	}
	if result.QRCode == "" {
		// code 10000 但缺 qr_code：按协议错误终止，不视为可重试
		return nil, fmt.Errorf("%w: qr_code is empty on success code", ErrResponseInvalid)
	}
	return result, nil
}

func resolveGateways(cfg *Config) ([]string, error) {
	primary := strings.TrimSpace(cfg.GatewayURL)
	if primary == "" {
		return nil, fmt.Errorf("%w: gateway_url is required", ErrConfigInvalid)
	}
	gateways := []string{normalizeGateway(primary)}
	for _, fallback := range cfg.FallbackGatewayURLs {
		fallback = strings.TrimSpace(fallback)
		if fallback == "" {
			continue
		}
		gateways = append(gateways, normalizeGateway(fallback))
	}
	for _, gateway := range gateways {
		if _, err := url.ParseRequestURI(gateway); err != nil {
			return nil, fmt.Errorf("%w: gateway url %s is invalid", ErrConfigInvalid, gateway)
		}
	}
	return gateways, nil
}

func normalizeGateway(base string) string {
	if strings.HasSuffix(base, gatewayPath) {
		return base
	}
	return strings.TrimRight(base, "/") + gatewayPath
}

// resolveTrust 把两种信任模式归一：证书三元组优先于普通公钥，二者皆缺直接失败。
func resolveTrust(cfg *Config) (trustMaterial, error) {
	appCert, err := resolveCertContent(cfg.AppCert, cfg.AppCertPath)
	if err != nil {
		return trustMaterial{}, err
	}
	alipayCert, err := resolveCertContent(cfg.AlipayPublicCert, cfg.AlipayPublicCertPath)
	if err != nil {
		return trustMaterial{}, err
	}
	rootCert, err := resolveCertContent(cfg.RootCert, cfg.RootCertPath)
	if err != nil {
		return trustMaterial{}, err
	}

	hasAnyCert := len(appCert) > 0 || len(alipayCert) > 0 || len(rootCert) > 0
	if hasAnyCert {
		if len(appCert) == 0 || len(alipayCert) == 0 || len(rootCert) == 0 {
			return trustMaterial{}, fmt.Errorf("%w: cert mode requires app_cert, alipay_public_cert and root_cert", ErrConfigInvalid)
		}
		appCertSN, err := GetSN(appCert, false)
		if err != nil {
			return trustMaterial{}, err
		}
		rootCertSN, err := GetSN(rootCert, true)
		if err != nil {
			return trustMaterial{}, err
		}
		verifyKey, err := LoadPublicKey(alipayCert)
		if err != nil {
			return trustMaterial{}, err
		}
		return trustMaterial{
			verifyKey:  verifyKey,
			appCertSN:  appCertSN,
			rootCertSN: rootCertSN,
			certMode:   true,
		}, nil
	}

	publicKey := normalizeKey(cfg.AlipayPublicKey, "PUBLIC KEY")
	if publicKey == "" {
		return trustMaterial{}, fmt.Errorf("%w: alipay_public_key or cert triple is required", ErrConfigInvalid)
	}
	if _, err := parsePublicKey(publicKey); err != nil {
		return trustMaterial{}, fmt.Errorf("%w: alipay_public_key is not a valid rsa key", ErrConfigInvalid)
	}
	return trustMaterial{verifyKey: publicKey}, nil
}

func resolveCertContent(content, path string) ([]byte, error) {
	if strings.TrimSpace(content) != "" {
		return []byte(content), nil
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read cert file failed: %s", ErrCertificateParse, path)
	}
	return data, nil
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func truncateBody(body []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
