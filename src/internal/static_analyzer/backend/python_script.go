package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrNoSource is returned when the front-end reports that the contract has
// no published source.
var ErrNoSource = errors.New("front-end: no source code")

// PythonScriptBackend runs the static front-end wrapper script. The request
// is written to stdin as JSON; the script answers on stdout with
// {"success":bool,"result":{...},"error":"...","no_source":bool}.
type PythonScriptBackend struct {
	scriptPath string
	pythonPath string
	timeout    time.Duration
}

func NewPythonScriptBackend(pythonPath, scriptPath string, timeout time.Duration) (*PythonScriptBackend, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("front-end script path is empty")
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("front-end script not available: %w", err)
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &PythonScriptBackend{
		scriptPath: scriptPath,
		pythonPath: pythonPath,
		timeout:    timeout,
	}, nil
}

// Analyze returns the raw "result" object of the script.
func (b *PythonScriptBackend) Analyze(ctx context.Context, request any) (json.RawMessage, error) {
	inputJSON, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal input failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.pythonPath, b.scriptPath)
	cmd.Stdin = bytes.NewReader(inputJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("front-end timed out after %s", b.timeout)
		}
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = stdout.String()
		}
		return nil, fmt.Errorf("front-end execution failed: %w, stderr: %s", err, truncate(errMsg))
	}

	var response struct {
		Success  bool            `json:"success"`
		Result   json.RawMessage `json:"result"`
		Error    string          `json:"error"`
		NoSource bool            `json:"no_source"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		if msg := stderr.String(); msg != "" {
			return nil, fmt.Errorf("parse output failed: %w, stderr: %s", err, truncate(msg))
		}
		return nil, fmt.Errorf("parse output failed: %w, output: %s", err, truncate(stdout.String()))
	}

	if response.NoSource {
		return nil, ErrNoSource
	}
	if !response.Success {
		return nil, fmt.Errorf("front-end error: %s", response.Error)
	}
	return response.Result, nil
}

func (b *PythonScriptBackend) Close() error {
	return nil
}

func truncate(s string) string {
	if len(s) > 4096 {
		return s[:4096] + "...(truncated)"
	}
	return s
}
