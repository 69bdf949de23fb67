// Package accessctl decides which modifiers actually restrict who may call
// a function.
package accessctl

import (
	"github.com/VectorBits/crossleak/src/internal/facts"
)

// Result is the classification of one modifier.
type Result struct {
	UsesIdentity     bool `json:"uses_identity"`
	UsesState        bool `json:"uses_state"`
	IdentityCaptured bool `json:"identity_captured"`
}

// OwnerOnly is the single access-control predicate used by the rest of the
// engine.
func (r Result) OwnerOnly() bool {
	return r.UsesIdentity && r.UsesState && !r.IdentityCaptured
}

func (r Result) or(o Result) Result {
	return Result{
		UsesIdentity:     r.UsesIdentity || o.UsesIdentity,
		UsesState:        r.UsesState || o.UsesState,
		IdentityCaptured: r.IdentityCaptured || o.IdentityCaptured,
	}
}

// Classifier memoizes modifier results for one contract. It is not safe for
// concurrent use.
type Classifier struct {
	contract *facts.Contract
	memo     map[string]Result
}

func NewClassifier(contract *facts.Contract) *Classifier {
	return &Classifier{
		contract: contract,
		memo:     make(map[string]Result),
	}
}

// Classify returns the triple for the modifier with the given signature.
// Unknown signatures classify as all-false.
func (c *Classifier) Classify(signature string) Result {
	if r, ok := c.memo[signature]; ok {
		return r
	}
	body, ok := c.contract.Callable(signature)
	if !ok {
		return Result{}
	}
	r := c.classifyBody(body, map[string]bool{signature: true})
	c.memo[signature] = r
	return r
}

func (c *Classifier) classifyBody(body *facts.Body, visited map[string]bool) Result {
	var res Result

	for _, read := range body.Reads {
		switch read.Kind {
		case facts.KindStateVariable:
			if facts.HoldsPrivilegedIdentity(read.Type) {
				res.UsesState = true
			}
		case facts.KindIdentityPrimitive:
			usesIdentity, captured := compareIdentity(body.Comparisons)
			if captured {
				res.IdentityCaptured = true
			} else if usesIdentity {
				res.UsesIdentity = true
			}
		}
	}

	for _, call := range body.InternalCalls {
		if visited[call] {
			continue
		}
		callee, ok := c.contract.Callable(call)
		if !ok {
			// builtin such as require(bool) or an unresolved target
			continue
		}
		visited[call] = true
		res = res.or(c.classifyBody(callee, visited))
	}

	if body.HasExternalCalls {
		res.UsesState = true
	}
	return res
}

// compareIdentity scans comparisons that involve the caller identity. It
// stops at the first one whose other side is attacker-influenced.
func compareIdentity(comparisons []facts.Comparison) (usesIdentity, captured bool) {
	for _, cmp := range comparisons {
		var other facts.Operand
		switch {
		case cmp.Left.Kind == facts.KindIdentityPrimitive:
			other = cmp.Right
		case cmp.Right.Kind == facts.KindIdentityPrimitive:
			other = cmp.Left
		default:
			continue
		}
		if other.AttackerInfluenced() {
			return false, true
		}
		usesIdentity = true
	}
	return usesIdentity, false
}

// OwnerOnlyModifiers lists the contract's owner-only modifiers in
// declaration order.
func (c *Classifier) OwnerOnlyModifiers() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range c.contract.Modifiers {
		if seen[m.Signature] {
			continue
		}
		seen[m.Signature] = true
		if c.Classify(m.Signature).OwnerOnly() {
			out = append(out, m.Signature)
		}
	}
	return out
}

// GuardingModifiers returns the owner-only modifiers attached to fn or to
// any function in its internal-call chain.
func (c *Classifier) GuardingModifiers(fn *facts.Function, ownerOnly map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	visited := map[string]bool{fn.Signature: true}

	var walk func(f *facts.Function)
	walk = func(f *facts.Function) {
		for _, m := range f.Modifiers {
			if ownerOnly[m] && !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
		for _, call := range f.InternalCalls {
			if visited[call] {
				continue
			}
			visited[call] = true
			if callee, ok := c.contract.Function(call); ok {
				walk(callee)
			}
		}
	}
	walk(fn)
	return out
}
