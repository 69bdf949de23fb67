package callgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Node is one call captured during replay. CalledFunctionSignature holds the
// 4-byte selector of the invoked function.
type Node struct {
	ContractAddress         string  `json:"contract_address"`
	IsSame                  bool    `json:"is_same"`
	CalledFunctionSignature string  `json:"called_function_signature"`
	Children                []*Node `json:"children"`
	Write                   uint64  `json:"write"`
	Read                    uint64  `json:"read"`
	Invoke                  uint64  `json:"invoke"`
	DappName                string  `json:"dapp_name"`
}

// Record is the replay artifact of one transaction.
type Record struct {
	CallGraph *Node
	// DelegateRecord maps a proxy (storage) address to its logic address.
	// Keys and values are lower-cased.
	DelegateRecord map[string]string
}

// RecordPath is where the oracle leaves the replay record of a transaction
// sent to contract to.
func RecordPath(recordDir, to, hash string) string {
	return filepath.Join(recordDir, "cache", strings.ToLower(to), "tx", hash, "replay_record_"+hash)
}

func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay record: %w", err)
	}
	return ParseRecord(data)
}

// ParseRecord decodes a replay record. The oracle stores "call_graph" and
// "delegatecall_record" as JSON-encoded strings; plain objects are accepted
// as well.
func ParseRecord(data []byte) (*Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid replay record: %w", err)
	}

	graphRaw, ok := raw["call_graph"]
	if !ok {
		return nil, fmt.Errorf("replay record has no call_graph")
	}
	var graph Node
	if err := decodeNested(graphRaw, &graph); err != nil {
		return nil, fmt.Errorf("invalid call_graph: %w", err)
	}

	delegates := map[string]string{}
	if delegateRaw, ok := raw["delegatecall_record"]; ok {
		var m map[string]string
		if err := decodeNested(delegateRaw, &m); err != nil {
			return nil, fmt.Errorf("invalid delegatecall_record: %w", err)
		}
		for k, v := range m {
			delegates[strings.ToLower(k)] = strings.ToLower(v)
		}
	}
	return &Record{CallGraph: &graph, DelegateRecord: delegates}, nil
}

func decodeNested(raw json.RawMessage, v any) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return json.Unmarshal([]byte(s), v)
	}
	return json.Unmarshal(raw, v)
}

// Root is the node whose children are ranked: the entry call, or its first
// child when the entry contract is a proxy.
func (r *Record) Root() *Node {
	root := r.CallGraph
	if root == nil {
		return nil
	}
	if _, proxy := r.DelegateRecord[strings.ToLower(root.ContractAddress)]; proxy && len(root.Children) > 0 {
		return root.Children[0]
	}
	return root
}

// Logic resolves a storage address to its logic contract, or returns it
// unchanged.
func (r *Record) Logic(address string) string {
	if logic, ok := r.DelegateRecord[strings.ToLower(address)]; ok {
		return logic
	}
	return address
}
