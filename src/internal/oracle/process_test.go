package oracle

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script writes an executable shell script standing in for the engine.
func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func sampleTx(hash string) TxContext {
	return TxContext{
		BlockNumber: "100", BlockHash: "0xbh", TimeStamp: "1700000000", Hash: hash,
		From: "0xfrom", To: "0xto", Value: "0", Input: "0xa9059cbb", FunctionName: "transfer(address,uint256)",
		IsError: "0", FunctionSign: "0xa9059cbb",
	}
}

func TestReplayArgs(t *testing.T) {
	args := ReplayArgs(sampleTx("0xh1"), "BSC", []string{"k1", "k2"})
	assert.Equal(t, []string{"replay", "-o", "--target-contract", "0xto", "--target-function", "server", "-c", "BSC", "--onchain-etherscan-api-key", "k1,k2"}, args[:10])
	assert.Equal(t, "0xbh", args[len(args)-1])
}

func TestVerifyArgsMarksVerified(t *testing.T) {
	req := VerifyRequest{Target: sampleTx("0xt"), Victim: sampleTx("0xv"), RelatedSignature: "setRate(uint256)", RelatedName: "setRate", Verified: true}
	args := VerifyArgs(req, "ETH", nil)
	assert.Equal(t, "--is-verified", args[len(args)-1])
	assert.Contains(t, args, "setRate(uint256)")

	req.Verified = false
	assert.NotContains(t, VerifyArgs(req, "ETH", nil), "--is-verified")
}

func TestProcessVerifyDetectsMarker(t *testing.T) {
	var outcomes []string
	p := &Process{
		Binary:  script(t, `echo "scanning"; echo "`+LeakMarker+`"`),
		Network: "ETH",
		Observe: func(mode, outcome string, _ time.Duration) { outcomes = append(outcomes, mode+":"+outcome) },
	}
	v, err := p.Verify(context.Background(), VerifyRequest{Target: sampleTx("0xt"), Victim: sampleTx("0xv")})
	require.NoError(t, err)
	assert.True(t, v.Leak)
	assert.Equal(t, "evm", v.Args[0])
	assert.Equal(t, []string{"verify:leak"}, outcomes)
}

func TestProcessExitError(t *testing.T) {
	p := &Process{Binary: script(t, `echo "boom" >&2; exit 3`)}
	_, err := p.Replay(context.Background(), sampleTx("0xh"))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "boom", exitErr.Stderr)
}

func TestProcessTimeout(t *testing.T) {
	p := &Process{Binary: script(t, `exec sleep 5`), Timeout: 100 * time.Millisecond}
	_, err := p.Verify(context.Background(), VerifyRequest{})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFakeRecordsCalls(t *testing.T) {
	f := &Fake{VerifyFunc: func(req VerifyRequest) (*Verdict, error) {
		return &Verdict{Leak: req.RelatedName == "setRate"}, nil
	}}
	v, err := f.Verify(context.Background(), VerifyRequest{RelatedName: "setRate"})
	require.NoError(t, err)
	assert.True(t, v.Leak)
	assert.Len(t, f.Verifies(), 1)
	assert.Empty(t, f.Replays())
}
