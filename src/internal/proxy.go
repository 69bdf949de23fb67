package internal

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	httpClientCacheMu sync.Mutex
	httpClientCache   = map[string]*http.Client{}
)

// ValidateProxyURL accepts an empty value (no proxy) or an http, https or
// socks5 URL with a host.
func ValidateProxyURL(proxyURL string) error {
	if strings.TrimSpace(proxyURL) == "" {
		return nil
	}

	u, err := url.Parse(strings.TrimSpace(proxyURL))
	if err != nil {
		return fmt.Errorf("invalid proxy URL format: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("unsupported proxy scheme: %s (supported: http, https, socks5)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("proxy host cannot be empty")
	}
	return nil
}

func newHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if proxyURL == "" {
		return client, nil
	}
	if err := ValidateProxyURL(proxyURL); err != nil {
		return nil, err
	}
	u, _ := url.Parse(proxyURL)
	client.Transport = &http.Transport{
		Proxy:               http.ProxyURL(u),
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
	}
	return client, nil
}

// CreateProxyHTTPClient returns a shared client per proxy and timeout pair.
// The explorer client and the RPC dialer both go through it.
func CreateProxyHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	key := proxyURL + "|" + timeout.String()

	httpClientCacheMu.Lock()
	defer httpClientCacheMu.Unlock()
	if cached := httpClientCache[key]; cached != nil {
		return cached, nil
	}

	client, err := newHTTPClient(proxyURL, timeout)
	if err != nil {
		return nil, err
	}
	if len(httpClientCache) >= 32 {
		httpClientCache = map[string]*http.Client{}
	}
	httpClientCache[key] = client
	return client, nil
}
