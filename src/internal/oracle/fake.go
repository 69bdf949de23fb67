package oracle

import (
	"context"
	"sync"
)

// Fake is an in-process Oracle for tests. Nil funcs succeed with an empty
// result and no leak.
type Fake struct {
	ReplayFunc func(tx TxContext) (*ReplayResult, error)
	VerifyFunc func(req VerifyRequest) (*Verdict, error)

	mu       sync.Mutex
	replays  []TxContext
	verifies []VerifyRequest
}

func (f *Fake) Replay(ctx context.Context, tx TxContext) (*ReplayResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.replays = append(f.replays, tx)
	f.mu.Unlock()
	if f.ReplayFunc != nil {
		return f.ReplayFunc(tx)
	}
	return &ReplayResult{}, nil
}

func (f *Fake) Verify(ctx context.Context, req VerifyRequest) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.verifies = append(f.verifies, req)
	f.mu.Unlock()
	if f.VerifyFunc != nil {
		return f.VerifyFunc(req)
	}
	return &Verdict{Args: VerifyArgs(req, "ETH", nil)}, nil
}

func (f *Fake) Replays() []TxContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TxContext(nil), f.replays...)
}

func (f *Fake) Verifies() []VerifyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]VerifyRequest(nil), f.verifies...)
}
