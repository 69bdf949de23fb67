package static_analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/VectorBits/crossleak/src/internal/facts"
)

// ErrNoSource marks a contract without publicly available source. Callers
// treat it as a permanent skip for that address.
var ErrNoSource = errors.New("no public source code")

// Request identifies the contract to analyze.
type Request struct {
	Address         string `json:"address"`
	Chain           string `json:"chain"`
	Language        string `json:"language"`
	CompilerVersion string `json:"compiler_version"`
	SourcePath      string `json:"source_path,omitempty"`
	SolcPath        string `json:"solc_path,omitempty"`
	APIKey          string `json:"api_key,omitempty"`
}

// Provider is the static front-end. Implementations must return a contract
// whose lookup tables are already prepared.
type Provider interface {
	Analyze(ctx context.Context, req Request) (*facts.Contract, error)
	Close() error
}

// StaticProvider serves pre-computed facts from memory. Addresses it does
// not know are reported as ErrNoSource.
type StaticProvider struct {
	mu        sync.RWMutex
	contracts map[string]*facts.Contract
	calls     int
}

func NewStaticProvider(contracts map[string]*facts.Contract) *StaticProvider {
	p := &StaticProvider{contracts: make(map[string]*facts.Contract, len(contracts))}
	for addr, c := range contracts {
		p.Add(addr, c)
	}
	return p
}

func (p *StaticProvider) Add(address string, c *facts.Contract) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contracts[strings.ToLower(address)] = c.Prepare()
}

func (p *StaticProvider) Analyze(ctx context.Context, req Request) (*facts.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	c, ok := p.contracts[strings.ToLower(req.Address)]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Address, ErrNoSource)
	}
	return c, nil
}

// Calls is the number of Analyze invocations served so far.
func (p *StaticProvider) Calls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls
}

func (p *StaticProvider) Close() error {
	return nil
}
