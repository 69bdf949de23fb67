// Package callgraph aggregates the call graph captured by a replay into a
// dapp/contract/function activity ranking.
package callgraph

import (
	"sort"
	"strings"
)

type Counters struct {
	Read   uint64 `json:"read"`
	Write  uint64 `json:"write"`
	Invoke uint64 `json:"invoke"`
}

func (c Counters) Total() uint64 {
	return c.Read + c.Write + c.Invoke
}

func (c *Counters) add(n *Node) {
	c.Read += n.Read
	c.Write += n.Write
	c.Invoke += n.Invoke
}

// LeafFilter decides whether an is-same child of the root is ranked. logic
// is the resolved implementation address of the leaf.
type LeafFilter func(leaf *Node, logic string) bool

type functionAgg struct {
	selector string
	counters Counters
}

type contractAgg struct {
	address   string
	functions []*functionAgg
	index     map[string]*functionAgg
}

type dappAgg struct {
	name      string
	contracts []*contractAgg
	index     map[string]*contractAgg
}

// Aggregation is the dapp -> contract -> function counter tree, kept in
// first-seen order.
type Aggregation struct {
	dapps []*dappAgg
	index map[string]*dappAgg
}

// Aggregate walks the children of the record root. An is-same node never
// contributes its own counters, but its descendants do. keep may be nil.
func Aggregate(rec *Record, keep LeafFilter) *Aggregation {
	agg := &Aggregation{index: make(map[string]*dappAgg)}
	root := rec.Root()
	if root == nil {
		return agg
	}
	for _, leaf := range root.Children {
		if leaf.IsSame && keep != nil && !keep(leaf, rec.Logic(leaf.ContractAddress)) {
			continue
		}
		agg.add(leaf)
		agg.walk(leaf.Children)
	}
	return agg
}

// walk is post-order: children are accumulated before the node itself.
func (a *Aggregation) walk(nodes []*Node) {
	for _, n := range nodes {
		a.walk(n.Children)
		a.add(n)
	}
}

func (a *Aggregation) add(n *Node) {
	if n.IsSame || strings.Contains(n.DappName, "unknown") {
		return
	}
	d, ok := a.index[n.DappName]
	if !ok {
		d = &dappAgg{name: n.DappName, index: make(map[string]*contractAgg)}
		a.index[n.DappName] = d
		a.dapps = append(a.dapps, d)
	}
	c, ok := d.index[n.ContractAddress]
	if !ok {
		c = &contractAgg{address: n.ContractAddress, index: make(map[string]*functionAgg)}
		d.index[n.ContractAddress] = c
		d.contracts = append(d.contracts, c)
	}
	f, ok := c.index[n.CalledFunctionSignature]
	if !ok {
		f = &functionAgg{selector: n.CalledFunctionSignature}
		c.index[n.CalledFunctionSignature] = f
		c.functions = append(c.functions, f)
	}
	f.counters.add(n)
}

type Function struct {
	Selector   string `json:"function_name"`
	Importance uint64 `json:"importance"`
	Counters
}

type Contract struct {
	Address    string     `json:"contract_address"`
	Importance uint64     `json:"importance"`
	Functions  []Function `json:"function_list"`
}

type Dapp struct {
	Name       string     `json:"dapp_name"`
	Importance uint64     `json:"importance"`
	Contracts  []Contract `json:"contract_list"`
}

// Rank sums counters bottom-up and orders every level by descending
// importance. Ties keep first-seen order.
func (a *Aggregation) Rank() []Dapp {
	dapps := make([]Dapp, 0, len(a.dapps))
	for _, d := range a.dapps {
		dapp := Dapp{Name: d.name, Contracts: make([]Contract, 0, len(d.contracts))}
		for _, c := range d.contracts {
			contract := Contract{Address: c.address, Functions: make([]Function, 0, len(c.functions))}
			for _, f := range c.functions {
				imp := f.counters.Total()
				contract.Functions = append(contract.Functions, Function{
					Selector:   f.selector,
					Importance: imp,
					Counters:   f.counters,
				})
				contract.Importance += imp
			}
			sort.SliceStable(contract.Functions, func(i, j int) bool {
				return contract.Functions[i].Importance > contract.Functions[j].Importance
			})
			dapp.Importance += contract.Importance
			dapp.Contracts = append(dapp.Contracts, contract)
		}
		sort.SliceStable(dapp.Contracts, func(i, j int) bool {
			return dapp.Contracts[i].Importance > dapp.Contracts[j].Importance
		})
		dapps = append(dapps, dapp)
	}
	sort.SliceStable(dapps, func(i, j int) bool {
		return dapps[i].Importance > dapps[j].Importance
	})
	return dapps
}

// Candidate is one ranked (dapp, contract, function) triple.
type Candidate struct {
	Dapp       string
	Contract   string
	Selector   string
	Importance uint64
}

// Candidates flattens a ranking in probe order.
func Candidates(dapps []Dapp) []Candidate {
	var out []Candidate
	for _, d := range dapps {
		for _, c := range d.Contracts {
			for _, f := range c.Functions {
				out = append(out, Candidate{
					Dapp:       d.Name,
					Contract:   c.Address,
					Selector:   f.Selector,
					Importance: f.Importance,
				})
			}
		}
	}
	return out
}
