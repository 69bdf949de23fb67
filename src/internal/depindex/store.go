package depindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/VectorBits/crossleak/src/internal/static_analyzer"
)

const noSourceSentinel = "no source code"

// Store keeps one artifact per contract address under
// <root>/cache/<address>/static_analysis_<address>.json. Artifacts are
// written at most once; deleting the file is the only invalidation.
type Store struct {
	root  string
	group singleflight.Group
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func key(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (s *Store) Dir(address string) string {
	return filepath.Join(s.root, "cache", key(address))
}

func (s *Store) Path(address string) string {
	addr := key(address)
	return filepath.Join(s.Dir(addr), "static_analysis_"+addr+".json")
}

// Load reads the artifact. It returns an error satisfying
// errors.Is(err, os.ErrNotExist) when nothing is stored and ErrNoSource when
// the sentinel is stored.
func (s *Store) Load(address string) (*Index, error) {
	data, err := os.ReadFile(s.Path(address))
	if err != nil {
		return nil, err
	}

	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && strings.Contains(probe.Error, noSourceSentinel) {
		return nil, fmt.Errorf("%s: %w", address, ErrNoSource)
	}

	idx := New()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("corrupt index artifact for %s: %w", address, err)
	}
	idx.normalize()
	return idx, nil
}

// Exists reports whether a valid, non-sentinel artifact is stored.
func (s *Store) Exists(address string) bool {
	_, err := s.Load(address)
	return err == nil
}

// Save writes idx unless an artifact is already present. It reports whether
// this call created the file.
func (s *Store) Save(address string, idx *Index) (bool, error) {
	data, err := json.Marshal(idx)
	if err != nil {
		return false, fmt.Errorf("marshal index for %s: %w", address, err)
	}
	return s.writeIfAbsent(address, data)
}

// MarkNoSource stores the sentinel so the address is skipped from now on.
func (s *Store) MarkNoSource(address string) error {
	data, _ := json.Marshal(map[string]string{"error": noSourceSentinel})
	_, err := s.writeIfAbsent(address, data)
	return err
}

func (s *Store) writeIfAbsent(address string, data []byte) (bool, error) {
	dir := s.Dir(address)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create index directory: %w", err)
	}
	path := s.Path(address)

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return false, fmt.Errorf("failed to write temp index file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return false, fmt.Errorf("failed to close temp index file: %w", err)
	}

	// A hard link fails if the target exists, so the first writer wins.
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		// Filesystems without hard links fall back to check-then-rename.
		if _, statErr := os.Stat(path); statErr == nil {
			return false, nil
		}
		if err := os.Rename(tmpPath, path); err != nil {
			return false, fmt.Errorf("failed to finalize index file: %w", err)
		}
	}
	return true, nil
}

// Outcome describes how GetOrBuild produced its result.
type Outcome string

const (
	OutcomeCached   Outcome = "cached"
	OutcomeBuilt    Outcome = "built"
	OutcomeNoSource Outcome = "no_source"
	OutcomeError    Outcome = "error"
)

// GetOrBuild returns the stored index for address, or runs build and stores
// its result. Concurrent calls for the same address share one build.
func (s *Store) GetOrBuild(ctx context.Context, address string, build func(ctx context.Context) (*Index, error)) (*Index, Outcome, error) {
	type result struct {
		idx     *Index
		outcome Outcome
	}
	v, err, _ := s.group.Do(key(address), func() (interface{}, error) {
		idx, err := s.Load(address)
		switch {
		case err == nil:
			return result{idx, OutcomeCached}, nil
		case errors.Is(err, ErrNoSource):
			return result{nil, OutcomeNoSource}, err
		case !errors.Is(err, os.ErrNotExist):
			return result{nil, OutcomeError}, err
		}

		built, err := build(ctx)
		if err != nil {
			if errors.Is(err, ErrNoSource) {
				if markErr := s.MarkNoSource(address); markErr != nil {
					return result{nil, OutcomeError}, markErr
				}
				return result{nil, OutcomeNoSource}, err
			}
			return result{nil, OutcomeError}, err
		}
		created, err := s.Save(address, built)
		if err != nil {
			return result{nil, OutcomeError}, err
		}
		if !created {
			// another process stored it first
			idx, err := s.Load(address)
			return result{idx, OutcomeCached}, err
		}
		return result{built, OutcomeBuilt}, nil
	})
	r, _ := v.(result)
	if r.outcome == "" {
		r.outcome = OutcomeError
	}
	return r.idx, r.outcome, err
}

// Analyzer ties the fact provider to the store.
type Analyzer struct {
	Store    *Store
	Provider static_analyzer.Provider
	Logf     func(format string, args ...any)
	// OnOutcome, when set, observes every lookup.
	OnOutcome func(Outcome)
}

// Analyze returns the index for req.Address, building it from provider facts
// only when no artifact exists.
func (a *Analyzer) Analyze(ctx context.Context, req static_analyzer.Request) (*Index, error) {
	idx, outcome, err := a.Store.GetOrBuild(ctx, req.Address, func(ctx context.Context) (*Index, error) {
		contract, err := a.Provider.Analyze(ctx, req)
		if err != nil {
			return nil, err
		}
		return Build(contract, a.Logf), nil
	})
	if a.OnOutcome != nil {
		a.OnOutcome(outcome)
	}
	return idx, err
}
