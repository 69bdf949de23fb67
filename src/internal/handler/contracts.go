package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/VectorBits/crossleak/src/internal/abigen"
	"github.com/VectorBits/crossleak/src/internal/callgraph"
	"github.com/VectorBits/crossleak/src/internal/dbutil"
	"github.com/VectorBits/crossleak/src/internal/depindex"
	"github.com/VectorBits/crossleak/src/internal/explorer"
	"github.com/VectorBits/crossleak/src/internal/logger"
	"github.com/VectorBits/crossleak/src/internal/solc"
	"github.com/VectorBits/crossleak/src/internal/static_analyzer"
)

// contractView is everything the orchestrator knows about one logic contract.
type contractView struct {
	Address   string
	Info      *explorer.ContractInfo
	ABI       *abigen.ContractABI
	Selectors map[string]string
	Index     *depindex.Index
}

// SourcePath is where the verified source of address is kept for the
// static analyzer.
func SourcePath(outputDir, address string) string {
	address = strings.ToLower(address)
	return filepath.Join(outputDir, "cache", address, "source_code_"+address)
}

// resolveLogic maps a storage address to the contract holding its code: the
// delegate-call record of the replay first, then the explorer's proxy
// metadata, then the implementation slot.
func (o *Orchestrator) resolveLogic(ctx context.Context, rec *callgraph.Record, address string) string {
	address = strings.ToLower(address)
	if rec != nil {
		if logic := strings.ToLower(rec.Logic(address)); logic != address {
			return logic
		}
	}

	if o.Contracts != nil {
		info, err := o.Contracts.ContractInfo(ctx, address)
		if err == nil && info.IsProxy() && info.Implementation != "" {
			return strings.ToLower(info.Implementation)
		}
	}

	if o.Proxies != nil {
		impl, err := o.Proxies.Implementation(ctx, address)
		if err != nil {
			logger.Debug("Implementation slot lookup failed for %s: %v", address, err)
		} else if impl != "" {
			return impl
		}
	}
	return address
}

// loadView fetches, analyses and caches a logic contract. Concurrent calls
// for one address share the work; contracts without source stay cached as
// failures for the rest of the run.
func (o *Orchestrator) loadView(ctx context.Context, address string) (*contractView, error) {
	address = strings.ToLower(address)

	o.viewMu.Lock()
	if v, ok := o.views[address]; ok {
		o.viewMu.Unlock()
		return v, nil
	}
	if err, ok := o.unavailable[address]; ok {
		o.viewMu.Unlock()
		return nil, err
	}
	o.viewMu.Unlock()

	res, err, _ := o.viewGroup.Do(address, func() (interface{}, error) {
		v, err := o.buildView(ctx, address)
		o.viewMu.Lock()
		defer o.viewMu.Unlock()
		switch {
		case err == nil:
			o.views[address] = v
		case errors.Is(err, depindex.ErrNoSource):
			o.unavailable[address] = err
		}
		return v, err
	})
	if err != nil {
		return nil, err
	}
	return res.(*contractView), nil
}

func (o *Orchestrator) buildView(ctx context.Context, address string) (*contractView, error) {
	if o.Contracts == nil {
		return nil, fmt.Errorf("no contract source configured")
	}
	if o.Indexes != nil && o.Indexes.Store != nil {
		if _, err := o.Indexes.Store.Load(address); errors.Is(err, depindex.ErrNoSource) {
			return nil, err
		}
	}

	info, err := o.Contracts.ContractInfo(ctx, address)
	if err != nil {
		if errors.Is(err, explorer.ErrNoSource) {
			if o.Indexes != nil && o.Indexes.Store != nil {
				if markErr := o.Indexes.Store.MarkNoSource(address); markErr != nil {
					logger.Warn("Failed to mark %s as unavailable: %v", address, markErr)
				}
			}
			return nil, fmt.Errorf("%s: %w", address, depindex.ErrNoSource)
		}
		return nil, fmt.Errorf("failed to fetch contract %s: %w", address, err)
	}

	version := solc.ParseCompilerVersion(info.CompilerVersion, info.SourceCode)
	if version.Version == solc.Latest {
		logger.Warn("Unsupported compiler version %q for %s, using latest", info.CompilerVersion, address)
	}

	sourcePath := SourcePath(o.opts.OutputDir, address)
	if err := writeSource(sourcePath, info.SourceCode); err != nil {
		return nil, err
	}

	req := static_analyzer.Request{
		Address:         address,
		Chain:           o.opts.Network,
		Language:        version.Language,
		CompilerVersion: version.Version,
		SourcePath:      sourcePath,
		APIKey:          o.opts.APIKey,
	}
	if o.Solc != nil && version.Language == solc.LanguageSolidity {
		path, err := o.Solc.GetSolcPath(ctx, version.Version)
		if err != nil {
			logger.Warn("No solc %s for %s: %v", version.Version, address, err)
		} else {
			req.SolcPath = path
		}
	}

	if o.Indexes == nil {
		return nil, fmt.Errorf("no dependency index configured")
	}
	idx, err := o.Indexes.Analyze(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", address, err)
	}

	parsed, err := abigen.ParseABI(info.ABI)
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", address, err)
	}

	if o.Store != nil {
		rec := dbutil.ContractRecord{
			Address:         address,
			Network:         o.opts.Network,
			Name:            info.ContractName,
			Language:        version.Language,
			CompilerVersion: version.Version,
			HasSource:       true,
			IsProxy:         info.IsProxy(),
			Implementation:  strings.ToLower(info.Implementation),
			ABI:             info.ABI,
		}
		if err := o.Store.SaveContract(ctx, rec); err != nil {
			logger.Warn("Failed to save contract %s: %v", address, err)
		}
	}

	selectors := make(map[string]string)
	for sel, sig := range parsed.SelectorMap() {
		selectors[strings.ToLower(sel)] = sig
	}
	return &contractView{
		Address:   address,
		Info:      info,
		ABI:       parsed,
		Selectors: selectors,
		Index:     idx,
	}, nil
}

func writeSource(path, source string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		return fmt.Errorf("failed to write source: %w", err)
	}
	return nil
}

// Index returns the dependency index of the contract holding address's
// code, building it when no artifact exists yet.
func (o *Orchestrator) Index(ctx context.Context, address string) (string, *depindex.Index, error) {
	logic := o.resolveLogic(ctx, nil, address)
	view, err := o.loadView(ctx, logic)
	if err != nil {
		return logic, nil, err
	}
	return logic, view.Index, nil
}
