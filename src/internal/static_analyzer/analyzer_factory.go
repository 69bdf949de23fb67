package static_analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/VectorBits/crossleak/src/internal/facts"
	"github.com/VectorBits/crossleak/src/internal/logger"
	"github.com/VectorBits/crossleak/src/internal/static_analyzer/backend"
)

type BackendType string

const (
	BackendPythonScript BackendType = "python_script"
	BackendStatic       BackendType = "static" // in-memory facts, for tests and replays of saved facts
)

type AnalyzerConfig struct {
	Backend    BackendType
	PythonPath string
	ScriptPath string
	Timeout    time.Duration
}

func DefaultConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Backend:    BackendPythonScript,
		PythonPath: "python3",
		Timeout:    120 * time.Second,
	}
}

// NewProvider creates a fact provider for the configured backend.
func NewProvider(cfg AnalyzerConfig) (Provider, error) {
	switch cfg.Backend {
	case BackendPythonScript, "":
		b, err := backend.NewPythonScriptBackend(cfg.PythonPath, cfg.ScriptPath, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return &pythonScriptAdapter{backend: b}, nil
	case BackendStatic:
		return NewStaticProvider(nil), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: python_script, static)", cfg.Backend)
	}
}

type pythonScriptAdapter struct {
	backend *backend.PythonScriptBackend
}

func (a *pythonScriptAdapter) Analyze(ctx context.Context, req Request) (*facts.Contract, error) {
	raw, err := a.backend.Analyze(ctx, req)
	if err != nil {
		if errors.Is(err, backend.ErrNoSource) {
			return nil, fmt.Errorf("%s: %w", req.Address, ErrNoSource)
		}
		return nil, err
	}

	var contract facts.Contract
	if err := json.Unmarshal(raw, &contract); err != nil {
		return nil, fmt.Errorf("failed to decode facts for %s: %w", req.Address, err)
	}
	if contract.Address == "" {
		contract.Address = req.Address
	}
	logger.Debug("front-end returned %d functions, %d modifiers for %s",
		len(contract.Functions), len(contract.Modifiers), req.Address)
	return contract.Prepare(), nil
}

func (a *pythonScriptAdapter) Close() error {
	return a.backend.Close()
}
