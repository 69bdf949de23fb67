package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/VectorBits/crossleak/src/internal"
)

var (
	ErrNoSource    = errors.New("no source code")
	ErrRateLimited = errors.New("explorer rate limit reached")
)

const rateLimitMarker = "Max rate limit reached"

// KeySource hands out explorer API keys. *config.APIKeyManager satisfies it.
type KeySource interface {
	GetRandomKey() string
	GetNextKey() string
	HasKeys() bool
}

// PageCache persists raw result payloads. *cache.PageCache satisfies it.
type PageCache interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

type Config struct {
	BaseURL           string
	Keys              KeySource
	Proxy             string
	ChainID           int
	Timeout           time.Duration
	RequestsPerSecond int
	MaxAttempts       int
	Cache             PageCache
	HTTPClient        *http.Client
}

// Tx is one entry of the account txlist endpoint. Numeric fields stay
// strings because the oracle receives them verbatim.
type Tx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	Nonce           string `json:"nonce,omitempty"`
	BlockHash       string `json:"blockHash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	Gas             string `json:"gas,omitempty"`
	GasPrice        string `json:"gasPrice,omitempty"`
	IsError         string `json:"isError"`
	Input           string `json:"input"`
	ContractAddress string `json:"contractAddress,omitempty"`
	MethodID        string `json:"methodId,omitempty"`
	FunctionName    string `json:"functionName"`
}

// Skippable reports contract creations and reverted transactions.
func (t Tx) Skippable() bool {
	return t.To == "" || t.IsError == "1"
}

type ContractInfo struct {
	SourceCode      string `json:"SourceCode"`
	ABI             string `json:"ABI"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
	Proxy           string `json:"Proxy"`
	Implementation  string `json:"Implementation"`
}

func (c *ContractInfo) HasSource() bool {
	return c != nil && strings.TrimSpace(c.SourceCode) != ""
}

func (c *ContractInfo) IsProxy() bool {
	return c != nil && c.Proxy == "1" && c.Implementation != ""
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *RateLimiter
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid explorer base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient, err = internal.CreateProxyHTTPClient(cfg.Proxy, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create explorer HTTP client: %w", err)
		}
	}
	c := &Client{cfg: cfg, base: base, http: httpClient}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = NewRateLimiter(cfg.RequestsPerSecond)
	}
	return c, nil
}

func (c *Client) Close() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

// TxList returns up to offset transactions of address, newest first, ending
// at endBlock ("latest" or a block number).
func (c *Client) TxList(ctx context.Context, address, endBlock string, offset int) ([]Tx, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if endBlock == "" {
		endBlock = "latest"
	}
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", "0")
	q.Set("endblock", endBlock)
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("sort", "desc")

	key := fmt.Sprintf("%s|txlist|%s|%s|%d", c.base.Host, address, endBlock, offset)
	raw, err := c.cached(ctx, key, q, endBlock != "latest")
	if err != nil {
		return nil, err
	}
	var txs []Tx
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode txlist for %s: %w", address, err)
	}
	return txs, nil
}

// ContractInfo fetches verified source metadata. An unverified contract
// yields the info together with ErrNoSource.
func (c *Client) ContractInfo(ctx context.Context, address string) (*ContractInfo, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)

	key := fmt.Sprintf("%s|source|%s", c.base.Host, address)
	raw, err := c.cached(ctx, key, q, true)
	if err != nil {
		return nil, err
	}
	var infos []ContractInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("failed to decode source info for %s: %w", address, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, address)
	}
	info := &infos[0]
	if !info.HasSource() {
		return info, fmt.Errorf("%w: %s", ErrNoSource, address)
	}
	return info, nil
}

// cached serves stable pages from the page cache. Pages carrying the rate
// limit marker are never trusted.
func (c *Client) cached(ctx context.Context, key string, q url.Values, stable bool) (json.RawMessage, error) {
	if stable && c.cfg.Cache != nil {
		if data, ok, err := c.cfg.Cache.Get(key); err == nil && ok && !strings.Contains(string(data), rateLimitMarker) {
			return data, nil
		}
	}
	raw, err := c.call(ctx, q)
	if err != nil {
		return nil, err
	}
	if stable && c.cfg.Cache != nil {
		_ = c.cfg.Cache.Set(key, raw)
	}
	return raw, nil
}

func (c *Client) call(ctx context.Context, q url.Values) (json.RawMessage, error) {
	if c.cfg.ChainID > 0 {
		q.Set("chainid", strconv.Itoa(c.cfg.ChainID))
	}
	apiKey := ""
	if c.cfg.Keys != nil && c.cfg.Keys.HasKeys() {
		apiKey = c.cfg.Keys.GetRandomKey()
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		q.Set("apikey", apiKey)
		u := *c.base
		u.RawQuery = q.Encode()

		raw, err := c.do(ctx, u.String())
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(err, ErrRateLimited):
			if c.cfg.Keys != nil {
				apiKey = c.cfg.Keys.GetNextKey()
			}
		case isTemporaryNetErr(err):
		default:
			return nil, err
		}
		if attempt < c.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("request to explorer failed %d times: %w", c.cfg.MaxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, rawURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "crossleak/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request explorer API: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read explorer response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return nil, fmt.Errorf("explorer returned non-200 status: %d, body: %s", resp.StatusCode, snippet)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to parse explorer JSON: %w", err)
	}
	if len(r.Result) > 0 && r.Result[0] == '"' {
		var msg string
		_ = json.Unmarshal(r.Result, &msg)
		if strings.Contains(msg, rateLimitMarker) || strings.Contains(strings.ToLower(msg), "rate limit") {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, msg)
		}
		return nil, fmt.Errorf("explorer error: %s - %s", r.Message, msg)
	}
	if r.Status != "1" && !strings.EqualFold(r.Message, "No transactions found") {
		return nil, fmt.Errorf("explorer error: %s", r.Message)
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return json.RawMessage("[]"), nil
	}
	return r.Result, nil
}

func isTemporaryNetErr(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
