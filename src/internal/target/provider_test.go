package target

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/VectorBits/crossleak/src/internal/explorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagedHistory struct {
	mu    sync.Mutex
	pages map[string][]explorer.Tx
	calls []string
	err   error
}

func (p *pagedHistory) TxList(_ context.Context, _ string, endBlock string, _ int) ([]explorer.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, endBlock)
	if p.err != nil {
		return nil, p.err
	}
	return p.pages[endBlock], nil
}

func txAt(block int, to, isError string) explorer.Tx {
	return explorer.Tx{BlockNumber: strconv.Itoa(block), Hash: "0x" + strconv.Itoa(block), To: to, IsError: isError}
}

func collect(ch <-chan explorer.Tx) []explorer.Tx {
	var out []explorer.Tx
	for tx := range ch {
		out = append(out, tx)
	}
	return out
}

func TestGetTxChannelPagesAndFilters(t *testing.T) {
	h := &pagedHistory{pages: map[string][]explorer.Tx{
		"latest": {txAt(100, "0xc", "0"), txAt(90, "", "0"), txAt(80, "0xc", "1")},
		"79":     {txAt(70, "0xc", "0")},
	}}
	ch, err := GetTxChannel(context.Background(), h, "0xc", StreamConfig{PageSize: 3, MaxRound: 5})
	require.NoError(t, err)

	txs := collect(ch)
	require.Len(t, txs, 2)
	assert.Equal(t, "100", txs[0].BlockNumber)
	assert.Equal(t, "70", txs[1].BlockNumber)
	assert.Equal(t, []string{"latest", "79", "69"}, h.calls)
}

func TestGetTxChannelStopsAtMaxRound(t *testing.T) {
	h := &pagedHistory{pages: map[string][]explorer.Tx{
		"latest": {txAt(10, "0xc", "0")},
		"9":      {txAt(5, "0xc", "0")},
	}}
	ch, err := GetTxChannel(context.Background(), h, "0xc", StreamConfig{MaxRound: 1})
	require.NoError(t, err)
	assert.Len(t, collect(ch), 1)
	assert.Equal(t, []string{"latest"}, h.calls)
}

func TestGetTxChannelStopsOnError(t *testing.T) {
	h := &pagedHistory{err: errors.New("rate limited")}
	ch, err := GetTxChannel(context.Background(), h, "0xc", StreamConfig{})
	require.NoError(t, err)
	assert.Empty(t, collect(ch))

	_, err = GetTxChannel(context.Background(), nil, "0xc", StreamConfig{})
	assert.Error(t, err)
}

func TestNextEndBlock(t *testing.T) {
	next, ok := NextEndBlock([]explorer.Tx{txAt(20, "0x", "0"), txAt(15, "0x", "0")})
	assert.True(t, ok)
	assert.Equal(t, "14", next)

	_, ok = NextEndBlock(nil)
	assert.False(t, ok)
	_, ok = NextEndBlock([]explorer.Tx{{BlockNumber: "x"}})
	assert.False(t, ok)
}

func TestResolveAddresses(t *testing.T) {
	got, err := ResolveAddresses(" 0xABC ", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, got)

	_, err = ResolveAddresses("", "")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(file, []byte("# victims\n0xAA\n0xbb, note\n0xaa\n"), 0644))
	got, err = ResolveAddresses("", file)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaa", "0xbb"}, got)
}
