package config

import (
	"math/rand"
	"sync"
	"time"
)

// APIKeyManager rotates explorer API keys. A nil manager hands out empty
// keys.
type APIKeyManager struct {
	apiKeys []string
	current int
	mutex   sync.RWMutex
	rng     *rand.Rand
}

func NewAPIKeyManager(apiKeys []string, fallbackKey string) *APIKeyManager {
	validKeys := make([]string, 0, len(apiKeys)+1)
	for _, key := range apiKeys {
		if key != "" {
			validKeys = append(validKeys, key)
		}
	}
	if len(validKeys) == 0 && fallbackKey != "" {
		validKeys = append(validKeys, fallbackKey)
	}
	if len(validKeys) == 0 {
		return nil
	}

	manager := &APIKeyManager{
		apiKeys: validKeys,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	// start at a random key so parallel runs spread their quota
	manager.current = manager.rng.Intn(len(manager.apiKeys))
	return manager
}

// NewChainKeyManager builds the key ring of a chain.
func NewChainKeyManager(chain *ChainConfig) *APIKeyManager {
	return NewAPIKeyManager(chain.APIKeys(), chain.Explorer.APIKey)
}

func (m *APIKeyManager) GetKey() string {
	if m == nil || len(m.apiKeys) == 0 {
		return ""
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.apiKeys[m.current]
}

// GetNextKey advances the ring, typically after a rate-limit answer.
func (m *APIKeyManager) GetNextKey() string {
	if m == nil || len(m.apiKeys) == 0 {
		return ""
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.current = (m.current + 1) % len(m.apiKeys)
	return m.apiKeys[m.current]
}

func (m *APIKeyManager) GetRandomKey() string {
	if m == nil || len(m.apiKeys) == 0 {
		return ""
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	idx := m.rng.Intn(len(m.apiKeys))
	return m.apiKeys[idx]
}

// Keys returns every key; the oracle receives them joined by commas.
func (m *APIKeyManager) Keys() []string {
	if m == nil {
		return nil
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return append([]string(nil), m.apiKeys...)
}

func (m *APIKeyManager) GetKeyCount() int {
	if m == nil {
		return 0
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.apiKeys)
}

func (m *APIKeyManager) HasKeys() bool {
	return m != nil && len(m.apiKeys) > 0
}
