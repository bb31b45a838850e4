package alipay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sort"
	"strings"
)

const (
	SignTypeRSA  = "RSA"
	SignTypeRSA2 = "RSA2"
)

// buildSignContent 生成待签名串：剔除空值与 sign 字段，按键名字节序排序后以 k=v&k=v 连接。
// 排序与剔除规则是与网关互通的关键，任何偏差都会导致验签失败或放过伪造参数。
func buildSignContent(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		key = strings.TrimSpace(key)
		if key == "" || key == "sign" {
			continue
		}
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+params[key])
	}
	return strings.Join(parts, "&")
}

// SignParams 对参数集签名，返回 base64 签名值。
func SignParams(params map[string]string, privateKeyRaw, signType string) (string, error) {
	content := buildSignContent(params)
	if content == "" {
		return "", fmt.Errorf("%w: empty sign content", ErrSignGenerate)
	}
	privateKey, err := parsePrivateKey(privateKeyRaw)
	if err != nil {
		return "", err
	}
	hashType, digest := digestContent(content, signType)
	signBytes, err := rsa.SignPKCS1v15(rand.Reader, privateKey, hashType, digest)
	if err != nil {
		return "", fmt.Errorf("%w: sign failed", ErrSignGenerate)
	}
	return base64.StdEncoding.EncodeToString(signBytes), nil
}

// VerifyParams 校验参数集中的签名。
// sign 与 sign_type 先从待签集合中剔除；摘要算法以载荷声明的 sign_type 为准，
// 缺失时才回退到调用方配置的默认值。伪造或结构错误一律返回 false，不抛错。
func VerifyParams(params map[string]string, publicKeyRaw, defaultSignType string) bool {
	if len(params) == 0 {
		return false
	}
	sign := strings.TrimSpace(params["sign"])
	if sign == "" {
		return false
	}
	signType := strings.ToUpper(strings.TrimSpace(params["sign_type"]))
	if signType == "" {
		signType = strings.ToUpper(strings.TrimSpace(defaultSignType))
	}
	if signType != SignTypeRSA && signType != SignTypeRSA2 {
		return false
	}

	rest := make(map[string]string, len(params))
	for key, value := range params {
		if key == "sign" || key == "sign_type" {
			continue
		}
		rest[key] = value
	}
	content := buildSignContent(rest)
	if content == "" {
		return false
	}

	publicKey, err := parsePublicKey(publicKeyRaw)
	if err != nil {
		return false
	}
	signBytes, err := base64.StdEncoding.DecodeString(sign)
	if err != nil {
		return false
	}
	hashType, digest := digestContent(content, signType)
	return rsa.VerifyPKCS1v15(publicKey, hashType, digest, signBytes) == nil
}

func digestContent(content, signType string) (crypto.Hash, []byte) {
	if strings.ToUpper(strings.TrimSpace(signType)) == SignTypeRSA {
		sum := sha1.Sum([]byte(content))
		return crypto.SHA1, sum[:]
	}
	sum := sha256.Sum256([]byte(content))
	return crypto.SHA256, sum[:]
}

// normalizeKey 把单行裸 base64 密钥包装成 64 列 PEM；已带 BEGIN 标记的内容原样返回。
// 环境变量里通常存的是去掉头尾的单行密钥。
func normalizeKey(raw, label string) string {
	normalized := strings.TrimSpace(strings.ReplaceAll(raw, "\\n", "\n"))
	normalized = strings.ReplaceAll(normalized, "\r\n", "\n")
	if normalized == "" || strings.Contains(normalized, "BEGIN") {
		return normalized
	}
	body := strings.Join(strings.Fields(normalized), "")
	var lines []string
	for len(body) > 64 {
		lines = append(lines, body[:64])
		body = body[64:]
	}
	if body != "" {
		lines = append(lines, body)
	}
	return "-----BEGIN " + label + "-----\n" + strings.Join(lines, "\n") + "\n-----END " + label + "-----"
}

func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	normalized := normalizeKey(raw, "RSA PRIVATE KEY")
	if normalized == "" {
		return nil, fmt.Errorf("%w: private key is empty", ErrSignGenerate)
	}
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, fmt.Errorf("%w: private key pem decode failed", ErrSignGenerate)
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if privateKey, ok := parsed.(*rsa.PrivateKey); ok {
			return privateKey, nil
		}
		return nil, fmt.Errorf("%w: private key type is not rsa", ErrSignGenerate)
	}
	if privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return privateKey, nil
	}
	return nil, fmt.Errorf("%w: parse private key failed", ErrSignGenerate)
}

func parsePublicKey(raw string) (*rsa.PublicKey, error) {
	normalized := normalizeKey(raw, "PUBLIC KEY")
	if normalized == "" {
		return nil, fmt.Errorf("%w: public key is empty", ErrSignatureInvalid)
	}
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, fmt.Errorf("%w: public key pem decode failed", ErrSignatureInvalid)
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if publicKey, ok := parsed.(*rsa.PublicKey); ok {
			return publicKey, nil
		}
		return nil, fmt.Errorf("%w: public key type is not rsa", ErrSignatureInvalid)
	}
	if publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return publicKey, nil
	}
	return nil, fmt.Errorf("%w: parse public key failed", ErrSignatureInvalid)
}
