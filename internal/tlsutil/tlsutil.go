package tlsutil

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"slices"
	"time"
)

// aeadSuites TLS 1.2 下允许的密码套件；TLS 1.3 的套件不可配置
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultMaxIdleConnsPerHost 与扇出步骤打同一上游的并发数一致
const DefaultMaxIdleConnsPerHost = 16

// DefaultTLSConfig TLS 1.2 起步，仅 AEAD 套件。每次返回新实例。
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: slices.Clone(aeadSuites),
	}
}

// ServerTLSConfig 加载证书对。在监听前调用，路径或密钥错误在启动时暴露。
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tls key pair %s / %s: %w", certFile, keyFile, err)
	}
	cfg := DefaultTLSConfig()
	cfg.Certificates = []tls.Certificate{pair}
	return cfg, nil
}

// SecureTransport 在 http.DefaultTransport 的基础上替换 TLS 配置与每主机空闲连接数。
// perHost 不大于 0 时使用 DefaultMaxIdleConnsPerHost。
func SecureTransport(perHost int) *http.Transport {
	if perHost <= 0 {
		perHost = DefaultMaxIdleConnsPerHost
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = DefaultTLSConfig()
	tr.MaxIdleConnsPerHost = perHost
	return tr
}

// SecureHTTPClient 等价于 &http.Client{Timeout: timeout}，换上加固的 Transport
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: SecureTransport(0)}
}
