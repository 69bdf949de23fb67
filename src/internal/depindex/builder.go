package depindex

import (
	"strings"

	"github.com/VectorBits/crossleak/src/internal/accessctl"
	"github.com/VectorBits/crossleak/src/internal/facts"
)

// Eligible reports whether fn may be recorded in the index, and if not, the
// first rule it violates.
func Eligible(fn *facts.Function) (bool, string) {
	switch {
	case fn.Empty:
		return false, "empty"
	case fn.Visibility != facts.VisibilityPublic && fn.Visibility != facts.VisibilityExternal:
		return false, "not visible"
	case fn.Pure:
		return false, "pure"
	case fn.IsConstructor:
		return false, "constructor"
	case fn.IsFallback:
		return false, "fallback"
	}
	return true, ""
}

// orderedSet keeps first-insertion order.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: []string{}, seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

type builder struct {
	contract *facts.Contract
	logf     func(format string, args ...any)

	storageRead  map[string]*orderedSet
	storageWrite map[string]*orderedSet
	readOrder    []string
	writeOrder   []string
}

// Build computes the index of one contract. logf receives one line per
// skipped function or variable and may be nil.
func Build(c *facts.Contract, logf func(format string, args ...any)) *Index {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	idx := New()
	if !c.NeedsRecord() {
		logf("contract %s is a %s, nothing recorded", c.Name, c.Kind)
		return idx
	}

	b := &builder{
		contract:     c,
		logf:         logf,
		storageRead:  make(map[string]*orderedSet),
		storageWrite: make(map[string]*orderedSet),
	}

	cls := accessctl.NewClassifier(c)
	ownerOnly := make(map[string]bool)
	for _, m := range cls.OwnerOnlyModifiers() {
		ownerOnly[m] = true
		idx.OnlyOwnerModifiers[m] = []string{m}
	}

	for i := range c.Functions {
		fn := &c.Functions[i]
		if ok, reason := Eligible(fn); !ok {
			logf("function %s.%s skipped: %s", c.Name, fn.Signature, reason)
			continue
		}
		sig := fn.Signature
		if _, dup := idx.FunctionRead[sig]; dup {
			continue
		}

		reads, writes := newOrderedSet(), newOrderedSet()
		b.record(fn, nil, reads, writes)
		visited := map[string]bool{sig: true}
		b.recordInternal(fn, fn, reads, writes, visited)

		idx.FunctionRead[sig] = reads.items
		idx.FunctionWrite[sig] = writes.items
		idx.OnlyOwnerFunction[sig] = nonNil(cls.GuardingModifiers(fn, ownerOnly))
		idx.NonReentrant[sig] = boolInt(b.nonReentrant(fn))
		idx.VerifiedInput[sig] = boolInt(inputVerified(fn))
	}

	for _, v := range b.readOrder {
		idx.StorageReadUnique[v] = b.storageRead[v].items
	}
	for _, v := range b.writeOrder {
		idx.StorageWriteUnique[v] = b.storageWrite[v].items
	}
	return idx
}

// recordInternal walks fn's internal calls and attributes their accesses to
// origin.
func (b *builder) recordInternal(fn, origin *facts.Function, reads, writes *orderedSet, visited map[string]bool) {
	for _, call := range fn.InternalCalls {
		if visited[call] {
			continue
		}
		visited[call] = true
		callee, ok := b.contract.Function(call)
		if !ok {
			continue
		}
		b.record(callee, origin, reads, writes)
		b.recordInternal(callee, origin, reads, writes, visited)
	}
}

// record adds fn's direct accesses to reads/writes and to the storage maps.
// An access is attributed to origin when origin is eligible, otherwise to fn
// itself when fn is eligible, otherwise only the variable key is kept.
func (b *builder) record(fn, origin *facts.Function, reads, writes *orderedSet) {
	owner := ""
	if origin != nil {
		if ok, _ := Eligible(origin); ok {
			owner = origin.Signature
		}
	}
	if owner == "" {
		if ok, _ := Eligible(fn); ok {
			owner = fn.Signature
		}
	}

	for _, v := range fn.StateReads {
		if !b.keep(fn, v, "read") {
			continue
		}
		reads.add(v.Name)
		set := b.storageSet(b.storageRead, &b.readOrder, v.Name)
		if owner != "" {
			set.add(owner)
		}
	}
	for _, v := range fn.StateWrites {
		if !b.keep(fn, v, "write") {
			continue
		}
		writes.add(v.Name)
		set := b.storageSet(b.storageWrite, &b.writeOrder, v.Name)
		if owner != "" {
			set.add(owner)
		}
	}
}

func (b *builder) keep(fn *facts.Function, v facts.StateVar, op string) bool {
	if v.Constant || v.Immutable {
		b.logf("%s: variable %s in %s is constant or immutable", op, v.Name, fn.Signature)
		return false
	}
	if !b.contract.Declares(v) {
		b.logf("%s: variable %s.%s in %s is declared outside %s, cross-contract storage is not tracked",
			op, v.Contract, v.Name, fn.Signature, b.contract.Name)
		return false
	}
	return true
}

func (b *builder) storageSet(m map[string]*orderedSet, order *[]string, name string) *orderedSet {
	set, ok := m[name]
	if !ok {
		set = newOrderedSet()
		m[name] = set
		*order = append(*order, name)
	}
	return set
}

// nonReentrant is true if fn, a modifier it uses, or anything in its
// internal-call chain carries a reentrancy guard.
func (b *builder) nonReentrant(fn *facts.Function) bool {
	visited := make(map[string]bool)
	var walk func(f *facts.Function) bool
	walk = func(f *facts.Function) bool {
		if visited[f.Signature] {
			return false
		}
		visited[f.Signature] = true
		if f.NonReentrant {
			return true
		}
		for _, m := range f.Modifiers {
			if isReentrancyGuard(m) {
				return true
			}
		}
		for _, call := range f.InternalCalls {
			if isReentrancyGuard(call) {
				if _, ok := b.contract.Modifier(call); ok {
					return true
				}
			}
			if callee, ok := b.contract.Function(call); ok && walk(callee) {
				return true
			}
		}
		return false
	}
	return walk(fn)
}

func isReentrancyGuard(signature string) bool {
	name := signature
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	return strings.EqualFold(name, "nonReentrant")
}

// inputVerified is true when every parameter that is not numeric, boolean or
// a string is mentioned in at least one require/assert condition.
func inputVerified(fn *facts.Function) bool {
	for _, p := range fn.Parameters {
		if !facts.NeedsValidation(p.Type) {
			continue
		}
		found := false
		for _, cond := range fn.Requires {
			if strings.Contains(cond, p.Name) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
