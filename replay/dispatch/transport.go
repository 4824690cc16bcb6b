package dispatch

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// TransportConfig bounds the shared connection pool. The pool is the only
// backpressure in a replay: requests beyond MaxConnections wait for a free
// connection inside the transport.
type TransportConfig struct {
	MaxConnections     int
	MaxIdleConnections int
	Timeout            time.Duration // whole request, including reading the body
}

// DefaultTransportConfig returns the pool limits used when none are configured.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxConnections:     4096,
		MaxIdleConnections: 1024,
		Timeout:            300 * time.Second,
	}
}

// NewHTTPClient builds one pooled client to be shared by every dispatch.
func NewHTTPClient(cfg TransportConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConns:          cfg.MaxIdleConnections,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}
}

// NormalizeEndpoint adds an http:// scheme when none is given and drops
// trailing slashes.
func NormalizeEndpoint(endpoint string) string {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	return strings.TrimRight(endpoint, "/")
}
