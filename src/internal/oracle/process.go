package oracle

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

const DefaultTimeout = 300 * time.Second

// Process runs the engine binary once per call.
type Process struct {
	Binary  string
	WorkDir string
	Network string
	APIKeys []string
	Timeout time.Duration
	// Observe, when set, receives mode, outcome (leak, clean, timeout,
	// error) and wall time of every invocation.
	Observe func(mode, outcome string, elapsed time.Duration)
}

func (p *Process) Replay(ctx context.Context, tx TxContext) (*ReplayResult, error) {
	args := ReplayArgs(tx, p.Network, p.APIKeys)
	start := time.Now()
	stdout, err := p.run(ctx, "replay", args)
	p.observe("replay", outcome(err, false), start)
	if err != nil {
		return nil, err
	}
	return &ReplayResult{Args: args, Stdout: stdout}, nil
}

func (p *Process) Verify(ctx context.Context, req VerifyRequest) (*Verdict, error) {
	args := VerifyArgs(req, p.Network, p.APIKeys)
	start := time.Now()
	stdout, err := p.run(ctx, "verify", args)
	leak := err == nil && strings.Contains(stdout, LeakMarker)
	p.observe("verify", outcome(err, leak), start)
	if err != nil {
		return nil, err
	}
	return &Verdict{Leak: leak, Args: args, Stdout: stdout}, nil
}

func (p *Process) run(ctx context.Context, mode string, args []string) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Dir = p.WorkDir
	// children that inherit the output pipes must not outlive the timeout
	cmd.WaitDelay = 10 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), ErrTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &ExitError{Mode: mode, Code: exitErr.ExitCode(), Stderr: snippet(stderr.String())}
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

func (p *Process) observe(mode, outcome string, start time.Time) {
	if p.Observe != nil {
		p.Observe(mode, outcome, time.Since(start))
	}
}

func outcome(err error, leak bool) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case err != nil:
		return "error"
	case leak:
		return "leak"
	}
	return "clean"
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		return s[len(s)-512:]
	}
	return s
}
