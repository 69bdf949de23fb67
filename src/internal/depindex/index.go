// Package depindex builds and persists the per-contract storage dependency
// index: which eligible functions read and write which storage variables,
// plus the access-control, reentrancy and input-validation flags the
// resolver needs.
package depindex

import (
	"sort"

	"github.com/VectorBits/crossleak/src/internal/static_analyzer"
)

// ErrNoSource is the same sentinel the fact provider reports, so callers can
// test for either with errors.Is.
var ErrNoSource = static_analyzer.ErrNoSource

// Index is the serialized artifact. Keys of the function maps are canonical
// signatures, keys of the storage maps are variable names.
type Index struct {
	FunctionRead       map[string][]string `json:"function_read"`
	FunctionWrite      map[string][]string `json:"function_write"`
	StorageReadUnique  map[string][]string `json:"storage_read_unique"`
	StorageWriteUnique map[string][]string `json:"storage_write_unique"`
	OnlyOwnerFunction  map[string][]string `json:"only_owner_function"`
	OnlyOwnerModifiers map[string][]string `json:"only_owner_modifiers"`
	NonReentrant       map[string]int      `json:"non_Reentrant"`
	VerifiedInput      map[string]int      `json:"verified_input"`
}

func New() *Index {
	return &Index{
		FunctionRead:       make(map[string][]string),
		FunctionWrite:      make(map[string][]string),
		StorageReadUnique:  make(map[string][]string),
		StorageWriteUnique: make(map[string][]string),
		OnlyOwnerFunction:  make(map[string][]string),
		OnlyOwnerModifiers: make(map[string][]string),
		NonReentrant:       make(map[string]int),
		VerifiedInput:      make(map[string]int),
	}
}

// normalize replaces nil maps and slices left by a decoder so lookups and
// re-encoding behave the same as for a freshly built index.
func (idx *Index) normalize() {
	fill := func(m *map[string][]string) {
		if *m == nil {
			*m = make(map[string][]string)
		}
		for k, v := range *m {
			if v == nil {
				(*m)[k] = []string{}
			}
		}
	}
	fill(&idx.FunctionRead)
	fill(&idx.FunctionWrite)
	fill(&idx.StorageReadUnique)
	fill(&idx.StorageWriteUnique)
	fill(&idx.OnlyOwnerFunction)
	fill(&idx.OnlyOwnerModifiers)
	if idx.NonReentrant == nil {
		idx.NonReentrant = make(map[string]int)
	}
	if idx.VerifiedInput == nil {
		idx.VerifiedInput = make(map[string]int)
	}
}

// Reads returns the storage variables read by fn. The second result is false
// when fn was never recorded.
func (idx *Index) Reads(fn string) ([]string, bool) {
	vars, ok := idx.FunctionRead[fn]
	return vars, ok
}

func (idx *Index) Writes(fn string) ([]string, bool) {
	vars, ok := idx.FunctionWrite[fn]
	return vars, ok
}

func (idx *Index) Writers(variable string) []string {
	return idx.StorageWriteUnique[variable]
}

func (idx *Index) Readers(variable string) []string {
	return idx.StorageReadUnique[variable]
}

// IsOwnerOnly reports whether fn is reachable only through an owner-only
// modifier chain.
func (idx *Index) IsOwnerOnly(fn string) bool {
	return len(idx.OnlyOwnerFunction[fn]) > 0
}

func (idx *Index) IsNonReentrant(fn string) bool {
	return idx.NonReentrant[fn] != 0
}

// IsVerifiedInput is false for functions missing from the index, such as
// getters that appear in the ABI but were never recorded.
func (idx *Index) IsVerifiedInput(fn string) bool {
	return idx.VerifiedInput[fn] != 0
}

// Functions lists the recorded function signatures in sorted order.
func (idx *Index) Functions() []string {
	out := make([]string, 0, len(idx.FunctionRead))
	for fn := range idx.FunctionRead {
		out = append(out, fn)
	}
	sort.Strings(out)
	return out
}
