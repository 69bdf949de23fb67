// Package implicit derives the implicit dependencies of a function: the
// unprotected functions that write storage the function reads.
package implicit

import (
	"strings"

	"github.com/VectorBits/crossleak/src/internal/depindex"
)

// FallbackFunction is reported for selectors missing from the ABI.
const FallbackFunction = "fallback"

type Result struct {
	// Function is the canonical signature the selector resolved to.
	Function     string
	Dependencies []string
}

// Resolve computes the implicit dependencies of the function behind
// selector. selectors maps "0x"-prefixed 4-byte selectors to canonical
// signatures; lookups are case-insensitive.
func Resolve(selector string, idx *depindex.Index, selectors map[string]string) Result {
	fn, ok := lookup(selectors, selector)
	if !ok {
		return Result{Function: FallbackFunction}
	}
	return Result{Function: fn, Dependencies: Dependencies(fn, idx)}
}

// Dependencies returns the writers of every variable fn reads, minus
// owner-only writers, fn itself, and writers that share a reentrancy guard
// with fn. Order follows the index; duplicates are removed.
func Dependencies(fn string, idx *depindex.Index) []string {
	reads, ok := idx.Reads(fn)
	if !ok {
		return []string{}
	}
	targetGuarded := idx.IsNonReentrant(fn)

	out := []string{}
	seen := make(map[string]bool)
	for _, variable := range reads {
		for _, writer := range idx.Writers(variable) {
			if seen[writer] {
				continue
			}
			if writer == fn || idx.IsOwnerOnly(writer) {
				continue
			}
			if targetGuarded && idx.IsNonReentrant(writer) {
				continue
			}
			seen[writer] = true
			out = append(out, writer)
		}
	}
	return out
}

func lookup(selectors map[string]string, selector string) (string, bool) {
	if fn, ok := selectors[selector]; ok {
		return fn, true
	}
	want := strings.ToLower(selector)
	if !strings.HasPrefix(want, "0x") {
		want = "0x" + want
	}
	for sel, fn := range selectors {
		if strings.ToLower(sel) == want {
			return fn, true
		}
	}
	return "", false
}

// Name returns the function name part of a canonical signature.
func Name(signature string) string {
	if i := strings.IndexByte(signature, '('); i >= 0 {
		return signature[:i]
	}
	return signature
}
