package handler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VectorBits/crossleak/src/internal/abigen"
	"github.com/VectorBits/crossleak/src/internal/callgraph"
	"github.com/VectorBits/crossleak/src/internal/dbutil"
	"github.com/VectorBits/crossleak/src/internal/depindex"
	"github.com/VectorBits/crossleak/src/internal/explorer"
	"github.com/VectorBits/crossleak/src/internal/facts"
	"github.com/VectorBits/crossleak/src/internal/oracle"
	"github.com/VectorBits/crossleak/src/internal/report"
	"github.com/VectorBits/crossleak/src/internal/static_analyzer"
)

const (
	victimAddr = "0x00000000000000000000000000000000000000aa"
	poolAddr   = "0x00000000000000000000000000000000000000bb"
	userAddr   = "0x00000000000000000000000000000000000000cc"
)

const vaultABI = `[
 {"type":"function","name":"claim","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
 {"type":"function","name":"withdraw","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
 {"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
 {"type":"function","name":"deposit","inputs":[{"name":"to","type":"address"}],"outputs":[],"stateMutability":"payable"}
]`

var (
	sender  = facts.Operand{Kind: facts.KindIdentityPrimitive, Name: "msg.sender"}
	ownerOp = facts.Operand{Kind: facts.KindStateVariable, Name: "owner", Type: "address"}
	balance = facts.StateVar{Name: "balance", Type: "uint256", Contract: "Vault"}
)

// vault: claim() reads balance, written by the owner-only withdraw() and
// by the unguarded transfer().
func vault() *facts.Contract {
	return &facts.Contract{
		Name: "Vault",
		Kind: facts.ContractKindContract,
		StateVariables: []facts.StateVar{
			balance,
			{Name: "owner", Type: "address", Contract: "Vault"},
		},
		Modifiers: []facts.Modifier{{
			Signature: "onlyOwner()",
			Body: facts.Body{
				Reads:       []facts.Operand{ownerOp, sender},
				Comparisons: []facts.Comparison{{Op: "==", Left: sender, Right: ownerOp}},
			},
		}},
		Functions: []facts.Function{
			{Signature: "claim()", Name: "claim", Visibility: facts.VisibilityExternal, StateReads: []facts.StateVar{balance}},
			{Signature: "withdraw()", Name: "withdraw", Visibility: facts.VisibilityPublic, Modifiers: []string{"onlyOwner()"}, StateWrites: []facts.StateVar{balance}},
			{
				Signature: "transfer(address,uint256)", Name: "transfer", Visibility: facts.VisibilityExternal,
				Parameters:  []facts.Parameter{{Name: "to", Type: "address"}, {Name: "amount", Type: "uint256"}},
				StateWrites: []facts.StateVar{balance},
			},
		},
	}
}

type fakeExplorer struct {
	mu    sync.Mutex
	pages map[string][]explorer.Tx
	infos map[string]*explorer.ContractInfo
	calls []string
}

func (f *fakeExplorer) TxList(_ context.Context, address, endBlock string, _ int) ([]explorer.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := strings.ToLower(address) + "|" + endBlock
	f.calls = append(f.calls, k)
	return f.pages[k], nil
}

func (f *fakeExplorer) ContractInfo(_ context.Context, address string) (*explorer.ContractInfo, error) {
	info, ok := f.infos[strings.ToLower(address)]
	if !ok {
		return &explorer.ContractInfo{}, explorer.ErrNoSource
	}
	return info, nil
}

func vaultInfo() *explorer.ContractInfo {
	return &explorer.ContractInfo{
		SourceCode:      "pragma solidity ^0.8.19; contract Vault {}",
		ABI:             vaultABI,
		ContractName:    "Vault",
		CompilerVersion: "v0.8.19+commit.7dd6d404",
	}
}

type memStore struct {
	mu        sync.Mutex
	contracts []string
	findings  []report.Finding
}

func (m *memStore) SaveContract(_ context.Context, rec dbutil.ContractRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = append(m.contracts, rec.Address)
	return nil
}

func (m *memStore) SaveFinding(_ context.Context, f report.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings = append(m.findings, f)
	return nil
}

func observed(hash, block, selector string) explorer.Tx {
	return explorer.Tx{
		BlockNumber: block,
		BlockHash:   "0xblock" + block,
		TimeStamp:   "1700000000",
		Hash:        hash,
		From:        userAddr,
		To:          victimAddr,
		Value:       "0",
		IsError:     "0",
		Input:       selector,
		MethodID:    selector,
	}
}

// writeRecord stores a replay record where the victim's entry call reaches
// the pool through a self call.
func writeRecord(t *testing.T, dir, hash, selector string) {
	t.Helper()
	graph := map[string]any{
		"contract_address":          victimAddr,
		"called_function_signature": selector,
		"dapp_name":                 "Vault",
		"children": []any{map[string]any{
			"contract_address":          victimAddr,
			"is_same":                   true,
			"called_function_signature": selector,
			"dapp_name":                 "Vault",
			"children": []any{map[string]any{
				"contract_address":          poolAddr,
				"called_function_signature": abigen.Selector("claim()"),
				"dapp_name":                 "Pool",
				"read":                      1,
				"write":                     2,
				"children":                  []any{},
			}},
		}},
	}
	data, err := json.Marshal(map[string]any{"call_graph": graph, "delegatecall_record": map[string]string{}})
	require.NoError(t, err)
	path := callgraph.RecordPath(dir, victimAddr, hash)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

type fixture struct {
	dir      string
	explorer *fakeExplorer
	oracle   *oracle.Fake
	provider *static_analyzer.StaticProvider
	store    *memStore
	orch     *Orchestrator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	opts.OutputDir = dir
	f := &fixture{
		dir: dir,
		explorer: &fakeExplorer{
			pages: map[string][]explorer.Tx{},
			infos: map[string]*explorer.ContractInfo{victimAddr: vaultInfo(), poolAddr: vaultInfo()},
		},
		oracle: &oracle.Fake{},
		provider: static_analyzer.NewStaticProvider(map[string]*facts.Contract{
			victimAddr: vault(),
			poolAddr:   vault(),
		}),
		store: &memStore{},
	}
	o := New(opts)
	o.Oracle = f.oracle
	o.Contracts = f.explorer
	o.History = f.explorer
	o.Indexes = &depindex.Analyzer{Store: depindex.NewStore(dir), Provider: f.provider}
	o.Store = f.store
	o.Generator = abigen.NewGenerator(7)
	f.orch = o
	return f
}

func TestRunProbesImplicitDependencies(t *testing.T) {
	f := newFixture(t, Options{MaxCheckCount: 3, RandomTxCount: 2, Concurrency: 2})
	claim := abigen.Selector("claim()")
	transfer := abigen.Selector("transfer(address,uint256)")

	f.explorer.pages[victimAddr+"|latest"] = []explorer.Tx{observed("0xh1", "100", claim)}
	f.explorer.pages[poolAddr+"|latest"] = []explorer.Tx{
		{
			BlockNumber: "90", Hash: "0xh2", From: userAddr, To: poolAddr, Value: "0", IsError: "0",
			Input:        transfer + strings.Repeat("1", 128),
			MethodID:     transfer,
			FunctionName: "transfer(address to,uint256 amount)",
		},
		{BlockNumber: "89", Hash: "0xh3", To: poolAddr, IsError: "0", FunctionName: "claim()"},
		{BlockNumber: "88", Hash: "0xh4", To: poolAddr, IsError: "1", FunctionName: "transfer(address to,uint256 amount)"},
	}
	writeRecord(t, f.dir, "0xh1", claim)

	var seen []report.Finding
	f.orch.OnFinding = func(fd report.Finding) { seen = append(seen, fd) }
	f.oracle.VerifyFunc = func(req oracle.VerifyRequest) (*oracle.Verdict, error) {
		return &oracle.Verdict{Leak: req.Target.Type == KindOrigin, Args: oracle.VerifyArgs(req, "ETH", nil)}, nil
	}

	summary, err := f.orch.Run(context.Background(), victimAddr)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TxSeen)
	assert.Equal(t, 1, summary.TxReplayed)
	assert.Equal(t, 0, summary.Errors)

	verifies := f.oracle.Verifies()
	require.Len(t, verifies, 4)
	kinds := []string{}
	for _, v := range verifies {
		kinds = append(kinds, v.Target.Type)
		assert.Equal(t, "0xh1", v.Victim.Hash)
		assert.Equal(t, claim, v.RelatedSignature)
		assert.Equal(t, "claim()", v.RelatedName)
	}
	assert.Equal(t, []string{KindOrigin, KindRandom, KindWithoutInput, KindWithoutInput}, kinds)

	synth := verifies[2].Target
	assert.Equal(t, "100", synth.BlockNumber)
	assert.Equal(t, userAddr, synth.From)
	assert.Equal(t, poolAddr, synth.To)
	assert.Equal(t, transfer, synth.FunctionSign)
	assert.Equal(t, "transfer(address,uint256)", synth.FunctionName)
	assert.Equal(t, "0", synth.Value)
	assert.True(t, strings.HasPrefix(synth.Input, transfer))

	random := verifies[1].Target
	assert.True(t, strings.HasPrefix(random.Input, transfer))
	assert.Len(t, random.Input, len(transfer)+128)

	assert.Equal(t, 4, summary.OracleCalls)
	assert.Equal(t, 2, summary.Candidates[KindWithoutInput])
	require.Len(t, summary.Findings, 1)
	assert.Len(t, seen, 1)

	logged, err := f.orch.Findings.Read(victimAddr)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, KindOrigin, logged[0].Kind)
	assert.Equal(t, "0xh2", logged[0].TargetTxHash)
	assert.Equal(t, poolAddr, logged[0].TargetContract)
	assert.Equal(t, "transfer(address,uint256)", logged[0].TargetFunction)
	assert.NotEmpty(t, logged[0].OracleArgs)
	assert.Len(t, f.store.findings, 1)

	assert.Contains(t, f.explorer.calls, poolAddr+"|87")
	assert.FileExists(t, SourcePath(f.dir, poolAddr))
	assert.Equal(t, 2, f.provider.Calls(), "each contract is analysed once")
}

func TestOwnerOnlyVictimIsSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	withdraw := abigen.Selector("withdraw()")
	f.explorer.pages[victimAddr+"|latest"] = []explorer.Tx{observed("0xh1", "100", withdraw)}
	writeRecord(t, f.dir, "0xh1", withdraw)

	summary, err := f.orch.Run(context.Background(), victimAddr)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TxSkipped)
	assert.Empty(t, f.oracle.Verifies())
	assert.Len(t, f.oracle.Replays(), 1)
}

func TestReplayFailureIsRecorded(t *testing.T) {
	f := newFixture(t, Options{})
	claim := abigen.Selector("claim()")
	f.explorer.pages[victimAddr+"|latest"] = []explorer.Tx{observed("0xh1", "100", claim)}
	f.oracle.ReplayFunc = func(oracle.TxContext) (*oracle.ReplayResult, error) {
		return nil, &oracle.ExitError{Mode: "replay", Code: 1}
	}

	summary, err := f.orch.Run(context.Background(), victimAddr)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 0, summary.TxReplayed)
	assert.Empty(t, f.oracle.Verifies())

	data, err := os.ReadFile(f.orch.Errors.Path(victimAddr, victimAddr))
	require.NoError(t, err)
	assert.Contains(t, string(data), "exited with code 1")
}

func TestMaxTestPerSelector(t *testing.T) {
	f := newFixture(t, Options{MaxTest: 1})
	claim := abigen.Selector("claim()")
	f.explorer.pages[victimAddr+"|latest"] = []explorer.Tx{
		observed("0xh1", "100", claim),
		observed("0xh2", "99", claim),
	}
	f.oracle.ReplayFunc = func(oracle.TxContext) (*oracle.ReplayResult, error) {
		return nil, oracle.ErrTimeout
	}

	summary, err := f.orch.Run(context.Background(), victimAddr)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TxSeen)
	assert.Equal(t, 1, summary.TxSkipped)
	assert.Len(t, f.oracle.Replays(), 1)
}

func TestUnavailableContractIsLoggedOnce(t *testing.T) {
	f := newFixture(t, Options{})
	delete(f.explorer.infos, poolAddr)

	_, err := f.orch.loadView(context.Background(), poolAddr)
	assert.True(t, errors.Is(err, depindex.ErrNoSource))
	_, err = f.orch.loadView(context.Background(), poolAddr)
	assert.True(t, errors.Is(err, depindex.ErrNoSource))

	_, err = f.orch.Indexes.Store.Load(poolAddr)
	assert.True(t, errors.Is(err, depindex.ErrNoSource))
	assert.Equal(t, 0, f.provider.Calls())
}

func TestVariants(t *testing.T) {
	o := New(Options{})
	o.Generator = abigen.NewGenerator(1)
	parsed, err := abigen.ParseABI(vaultABI)
	require.NoError(t, err)

	deposit, ok := parsed.Method("deposit(address)")
	require.True(t, ok)
	h := explorer.Tx{Hash: "0x1", Value: "5", Input: abigen.Selector("deposit(address)") + strings.Repeat("a", 64)}
	out := o.variants(h, deposit, true)
	require.Len(t, out, 3)
	assert.Equal(t, KindOrigin, out[0].tx.Type)
	assert.Equal(t, KindPayable, out[1].tx.Type)
	assert.NotEqual(t, "5", out[1].tx.Value)
	assert.Equal(t, KindRandom, out[2].tx.Type)

	claim, ok := parsed.Method("claim()")
	require.True(t, ok)
	out = o.variants(explorer.Tx{Hash: "0x2", Value: "0", Input: "0x4e71d92d"}, claim, true)
	require.Len(t, out, 1)
	assert.Equal(t, "0x4e71d92d", out[0].tx.FunctionSign)

	out = o.variants(explorer.Tx{Hash: "0x3"}, claim, false)
	require.Len(t, out, 1)
	assert.Equal(t, "0x00000000", out[0].tx.FunctionSign)
}

func TestFilterCalls(t *testing.T) {
	page := []explorer.Tx{
		{Hash: "a", To: poolAddr, FunctionName: "transfer(address to,uint256 amount)"},
		{Hash: "b", To: poolAddr, FunctionName: "transferFrom(address,address,uint256)"},
		{Hash: "c", To: "", FunctionName: "transfer(address,uint256)"},
		{Hash: "d", To: poolAddr, IsError: "1", FunctionName: "transfer(address,uint256)"},
	}
	got := filterCalls(page, "transfer")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Hash)
}
