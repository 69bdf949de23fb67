package callgraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	entry  = "0x1111111111111111111111111111111111111111"
	proxy  = "0x2222222222222222222222222222222222222222"
	logic  = "0x3333333333333333333333333333333333333333"
	token  = "0x4444444444444444444444444444444444444444"
	oracle = "0x5555555555555555555555555555555555555555"
)

func TestIsSameNodeContributesOnlyChildren(t *testing.T) {
	rec := &Record{
		CallGraph: &Node{
			ContractAddress: entry, DappName: "Router", Invoke: 1,
			Children: []*Node{{
				ContractAddress: proxy, DappName: "Lending", IsSame: true, Read: 7, Write: 7, Invoke: 7,
				Children: []*Node{
					{ContractAddress: token, DappName: "Lending", CalledFunctionSignature: "0xa9059cbb", Read: 1, Write: 2},
					{ContractAddress: token, DappName: "Lending", CalledFunctionSignature: "0x70a08231", Read: 3, Write: 0},
				},
			}},
		},
		DelegateRecord: map[string]string{},
	}

	ranked := Aggregate(rec, nil).Rank()
	require.Len(t, ranked, 1)
	assert.Equal(t, "Lending", ranked[0].Name)
	assert.Equal(t, uint64(6), ranked[0].Importance)
	require.Len(t, ranked[0].Contracts, 1)
	assert.Equal(t, uint64(6), ranked[0].Contracts[0].Importance)
	assert.Equal(t, token, ranked[0].Contracts[0].Address)
}

func TestUnknownDappDroppedButChildrenKept(t *testing.T) {
	rec := &Record{
		CallGraph: &Node{
			ContractAddress: entry,
			Children: []*Node{{
				ContractAddress: oracle, DappName: "unknown_0x55", Invoke: 5,
				Children: []*Node{{ContractAddress: token, DappName: "Token", CalledFunctionSignature: "0x70a08231", Read: 1, Invoke: 1}},
			}},
		},
	}
	ranked := Aggregate(rec, nil).Rank()
	require.Len(t, ranked, 1)
	assert.Equal(t, "Token", ranked[0].Name)
	assert.Equal(t, uint64(2), ranked[0].Importance)
}

func TestRankOrdersDescendingAndStable(t *testing.T) {
	rec := &Record{
		CallGraph: &Node{
			ContractAddress: entry,
			Children: []*Node{
				{ContractAddress: token, DappName: "A", CalledFunctionSignature: "0x01", Invoke: 1},
				{ContractAddress: oracle, DappName: "B", CalledFunctionSignature: "0x02", Invoke: 3},
				{ContractAddress: token, DappName: "A", CalledFunctionSignature: "0x03", Invoke: 1},
				{ContractAddress: logic, DappName: "C", CalledFunctionSignature: "0x04", Invoke: 2},
				{ContractAddress: token, DappName: "A", CalledFunctionSignature: "0x01", Read: 1},
			},
		},
	}
	ranked := Aggregate(rec, nil).Rank()
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{ranked[0].Name, ranked[1].Name, ranked[2].Name})

	fns := ranked[0].Contracts[0].Functions
	assert.Equal(t, "0x01", fns[0].Selector)
	assert.Equal(t, uint64(2), fns[0].Importance)
	assert.Equal(t, Counters{Read: 1, Invoke: 1}, fns[0].Counters)

	cands := Candidates(ranked)
	require.Len(t, cands, 4)
	assert.Equal(t, Candidate{Dapp: "B", Contract: oracle, Selector: "0x02", Importance: 3}, cands[2])
}

func TestProxyRootAndLeafFilter(t *testing.T) {
	rec := &Record{
		CallGraph: &Node{
			ContractAddress: proxy,
			Children: []*Node{{
				ContractAddress: logic, IsSame: true,
				Children: []*Node{
					{ContractAddress: proxy, DappName: "Vault", IsSame: true, CalledFunctionSignature: "0x3ccfd60b",
						Children: []*Node{{ContractAddress: token, DappName: "Token", CalledFunctionSignature: "0xa9059cbb", Invoke: 1}}},
					{ContractAddress: oracle, DappName: "Oracle", CalledFunctionSignature: "0x50d25bcd", Invoke: 1},
				},
			}},
		},
		DelegateRecord: map[string]string{proxy: logic},
	}
	assert.Same(t, rec.CallGraph.Children[0], rec.Root())

	var seen []string
	drop := func(leaf *Node, logicAddr string) bool {
		seen = append(seen, logicAddr)
		return false
	}
	ranked := Aggregate(rec, drop).Rank()
	assert.Equal(t, []string{logic}, seen)
	require.Len(t, ranked, 1)
	assert.Equal(t, "Oracle", ranked[0].Name)

	ranked = Aggregate(rec, func(*Node, string) bool { return true }).Rank()
	assert.Len(t, ranked, 2)
}

func TestParseRecordWithEncodedFields(t *testing.T) {
	graph, err := json.Marshal(&Node{ContractAddress: entry, Children: []*Node{{ContractAddress: token, DappName: "Token", Invoke: 1}}})
	require.NoError(t, err)
	delegates, err := json.Marshal(map[string]string{"0xABCDEF": "0x123456"})
	require.NoError(t, err)
	data, err := json.Marshal(map[string]string{
		"call_graph":          string(graph),
		"delegatecall_record": string(delegates),
	})
	require.NoError(t, err)

	dir := t.TempDir()
	path := RecordPath(dir, "0xAB", "0xhash")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	assert.Equal(t, filepath.Join(dir, "cache", "0xab", "tx", "0xhash", "replay_record_0xhash"), path)

	rec, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, entry, rec.CallGraph.ContractAddress)
	assert.Len(t, rec.CallGraph.Children, 1)
	assert.Equal(t, "0x123456", rec.Logic("0xabcdef"))

	_, err = ParseRecord([]byte(`{"delegatecall_record":"{}"}`))
	assert.Error(t, err)
}
