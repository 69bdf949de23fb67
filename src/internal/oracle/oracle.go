// Package oracle drives the external execution engine that replays
// transactions and checks candidate pairs for control leaks.
package oracle

import (
	"context"
	"errors"
	"fmt"
)

// LeakMarker is printed by the engine when a verify run confirms a leak.
const LeakMarker = "Find Cross Contract Control Leak!"

// ErrTimeout is returned when an invocation exceeds its wall-clock budget.
var ErrTimeout = errors.New("oracle invocation timed out")

// ExitError reports a non-zero exit of the engine.
type ExitError struct {
	Mode   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("oracle %s exited with code %d", e.Mode, e.Code)
	}
	return fmt.Sprintf("oracle %s exited with code %d: %s", e.Mode, e.Code, e.Stderr)
}

// TxContext is the full context of one transaction, as listed by the
// explorer or synthesized by the orchestrator.
type TxContext struct {
	BlockNumber  string `json:"blockNumber"`
	BlockHash    string `json:"blockHash"`
	TimeStamp    string `json:"timeStamp"`
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	Input        string `json:"input"`
	FunctionName string `json:"functionName"`
	IsError      string `json:"isError"`
	FunctionSign string `json:"functionSign"`
	// Type is the candidate kind: origin, payable, random or without_input.
	Type string `json:"type,omitempty"`
}

type ReplayResult struct {
	Args   []string
	Stdout string
}

type VerifyRequest struct {
	// Target is the candidate implicit-dependency transaction.
	Target TxContext
	// Victim is the observed transaction whose assumptions may break.
	Victim           TxContext
	RelatedSignature string
	RelatedName      string
	Verified         bool
}

type Verdict struct {
	Leak   bool
	Args   []string
	Stdout string
}

// Oracle is the engine's command contract. Implementations must bound every
// call with a timeout and return ErrTimeout or *ExitError on failure.
type Oracle interface {
	Replay(ctx context.Context, tx TxContext) (*ReplayResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*Verdict, error)
}
