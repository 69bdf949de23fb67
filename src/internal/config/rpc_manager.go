package config

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/VectorBits/crossleak/src/internal"
	"github.com/VectorBits/crossleak/src/internal/logger"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCManager keeps one client per configured node and fails over between
// them.
type RPCManager struct {
	chainName         string
	urls              []string
	clients           []*ethclient.Client
	current           int
	mutex             sync.RWMutex
	timeout           time.Duration
	healthCacheWindow time.Duration
	lastHealthyAt     []time.Time
}

func dialEthClient(rawURL string, timeout time.Duration, proxy string) (*ethclient.Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("empty rpc url")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		httpClient, err := internal.CreateProxyHTTPClient(proxy, timeout)
		if err != nil {
			return nil, err
		}
		rpcClient, err := rpc.DialHTTPWithClient(rawURL, httpClient)
		if err != nil {
			return nil, err
		}
		return ethclient.NewClient(rpcClient), nil
	default:
		return ethclient.Dial(rawURL)
	}
}

func NewRPCManager(chainName string, urls []string, timeout time.Duration, proxy string) (*RPCManager, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one RPC URL is required")
	}

	manager := &RPCManager{
		chainName:         chainName,
		urls:              urls,
		timeout:           timeout,
		clients:           make([]*ethclient.Client, len(urls)),
		healthCacheWindow: 5 * time.Second,
		lastHealthyAt:     make([]time.Time, len(urls)),
	}

	for i, u := range urls {
		client, err := dialEthClient(u, timeout, proxy)
		if err != nil {
			logger.Warn("Failed to connect to RPC [%s]: %v", u, err)
			continue
		}
		manager.clients[i] = client
	}

	manager.current = rand.Intn(len(manager.clients))
	return manager, nil
}

// GetClient returns a healthy client, probing at most once per health
// window.
func (r *RPCManager) GetClient(ctx context.Context) (*ethclient.Client, error) {
	r.mutex.RLock()
	current := r.current
	var client *ethclient.Client
	var lastHealthy time.Time
	if current >= 0 && current < len(r.clients) {
		client = r.clients[current]
		lastHealthy = r.lastHealthyAt[current]
	}
	r.mutex.RUnlock()

	if client != nil {
		if !lastHealthy.IsZero() && time.Since(lastHealthy) < r.healthCacheWindow {
			return client, nil
		}
		if r.probe(ctx, client) {
			r.mutex.Lock()
			r.lastHealthyAt[current] = time.Now()
			r.mutex.Unlock()
			return client, nil
		}
	}

	return r.switchToNextClient(ctx)
}

func (r *RPCManager) probe(ctx context.Context, client *ethclient.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := client.BlockNumber(ctx)
	return err == nil
}

func (r *RPCManager) switchToNextClient(ctx context.Context) (*ethclient.Client, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := 0; i < len(r.clients); i++ {
		nextIndex := (r.current + 1 + i) % len(r.clients)
		if r.clients[nextIndex] == nil {
			continue
		}
		if r.probe(ctx, r.clients[nextIndex]) {
			r.current = nextIndex
			r.lastHealthyAt[nextIndex] = time.Now()
			logger.Info("Switched to RPC: %s", r.urls[nextIndex])
			return r.clients[nextIndex], nil
		}
	}

	return nil, fmt.Errorf("all RPC nodes of %s are unavailable", r.chainName)
}

func (r *RPCManager) GetCurrentURL() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.current < len(r.urls) {
		return r.urls[r.current]
	}
	return ""
}

func (r *RPCManager) GetChainName() string {
	return r.chainName
}

func (r *RPCManager) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, client := range r.clients {
		if client != nil {
			client.Close()
		}
	}
}
