package alipay

import (
	"crypto/md5"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// LoadPublicKey 从 X.509 证书内容中提取 SPKI 公钥（PEM 格式）。
func LoadPublicKey(content []byte) (string, error) {
	cert, err := parseCertificate(content)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key failed", ErrCertificateParse)
	}
	encoded := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if encoded == nil {
		return "", fmt.Errorf("%w: encode public key failed", ErrCertificateParse)
	}
	return string(encoded), nil
}

// LoadPublicKeyFromPath 读取证书文件并提取公钥。
func LoadPublicKeyFromPath(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read cert file failed: %s", ErrCertificateParse, path)
	}
	return LoadPublicKey(content)
}

// PublicKeyBase64 返回去掉 PEM 头尾与换行的裸 base64 公钥。
func PublicKeyBase64(publicKeyPEM string) string {
	lines := strings.Split(strings.TrimSpace(publicKeyPEM), "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "-----") {
			continue
		}
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, "")
}

// GetSN 计算证书序列号指纹。
// 单证书模式返回 md5(issuer + 十进制序列号) 的小写十六进制；
// 根证书模式遍历捆绑内全部证书，仅保留 RSA 签名算法的条目，按出现顺序用 _ 连接。
func GetSN(content []byte, isRoot bool) (string, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return "", fmt.Errorf("%w: empty cert content", ErrCertificateParse)
	}
	if !isRoot {
		cert, err := parseCertificate(content)
		if err != nil {
			return "", err
		}
		return certSN(cert), nil
	}

	var sns []string
	rest := normalizeCertContent(content)
	blocks := 0
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		blocks++
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		// 根证书捆绑可能混入非 RSA 签名的过渡条目，网关侧不认它们
		if cert.SignatureAlgorithm != x509.SHA256WithRSA && cert.SignatureAlgorithm != x509.SHA1WithRSA {
			continue
		}
		sns = append(sns, certSN(cert))
	}
	if blocks == 0 {
		return "", fmt.Errorf("%w: no pem block found", ErrCertificateParse)
	}
	if len(sns) == 0 {
		return "", fmt.Errorf("%w: no usable cert in root bundle (%d blocks)", ErrCertificateParse, blocks)
	}
	return strings.Join(sns, "_"), nil
}

// GetSNFromPath 读取证书文件并计算序列号指纹。
func GetSNFromPath(path string, isRoot bool) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read cert file failed: %s", ErrCertificateParse, path)
	}
	return GetSN(content, isRoot)
}

func certSN(cert *x509.Certificate) string {
	sum := md5.Sum([]byte(cert.Issuer.String() + cert.SerialNumber.String()))
	return hex.EncodeToString(sum[:])
}

func parseCertificate(content []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(normalizeCertContent(content))
	if block == nil {
		return nil, fmt.Errorf("%w: cert pem decode failed", ErrCertificateParse)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse cert failed", ErrCertificateParse)
	}
	return cert, nil
}

// normalizeCertContent 统一换行格式，保证字符串与字节输入产出一致。
func normalizeCertContent(content []byte) []byte {
	normalized := strings.ReplaceAll(string(content), "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\\n", "\n")
	return []byte(strings.TrimSpace(normalized) + "\n")
}
