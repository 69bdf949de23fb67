// Package handler runs the verification loop: replay every observed
// transaction of a contract, rank the contracts it touched, and probe the
// implicit dependencies of each ranked function through the oracle.
package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/VectorBits/crossleak/src/internal/abigen"
	"github.com/VectorBits/crossleak/src/internal/callgraph"
	"github.com/VectorBits/crossleak/src/internal/dbutil"
	"github.com/VectorBits/crossleak/src/internal/depindex"
	"github.com/VectorBits/crossleak/src/internal/explorer"
	"github.com/VectorBits/crossleak/src/internal/implicit"
	"github.com/VectorBits/crossleak/src/internal/logger"
	"github.com/VectorBits/crossleak/src/internal/metrics"
	"github.com/VectorBits/crossleak/src/internal/oracle"
	"github.com/VectorBits/crossleak/src/internal/report"
	"github.com/VectorBits/crossleak/src/internal/solc"
	"github.com/VectorBits/crossleak/src/internal/target"
)

// ContractSource returns explorer metadata of a contract.
// *explorer.Client satisfies it.
type ContractSource interface {
	ContractInfo(ctx context.Context, address string) (*explorer.ContractInfo, error)
}

// ImplementationResolver reads a proxy's implementation on chain.
// *chain.SlotResolver satisfies it.
type ImplementationResolver interface {
	Implementation(ctx context.Context, address string) (string, error)
}

// Store mirrors contracts and findings into a database.
// *dbutil.Store satisfies it.
type Store interface {
	SaveContract(ctx context.Context, rec dbutil.ContractRecord) error
	SaveFinding(ctx context.Context, f report.Finding) error
}

type Options struct {
	Network   string
	OutputDir string
	// RecordDir is where the oracle leaves replay records.
	RecordDir string
	// MaxTest caps how many observed transactions per selector are replayed.
	MaxTest int
	// MaxCheckCount caps the candidates checked per implicit dependency.
	MaxCheckCount int
	// MaxRound caps the history pages read, both for targets and probes.
	MaxRound      int
	RandomTxCount int
	// TxLength is the page size of the target history.
	TxLength int
	// HistoryPageSize is the page size of an implicit dependency's history.
	HistoryPageSize int
	Concurrency     int
	APIKey          string
}

func (o *Options) applyDefaults() {
	if o.OutputDir == "" {
		o.OutputDir = "record_data"
	}
	if o.RecordDir == "" {
		o.RecordDir = o.OutputDir
	}
	if o.MaxTest <= 0 {
		o.MaxTest = 100
	}
	if o.MaxCheckCount <= 0 {
		o.MaxCheckCount = 50
	}
	if o.MaxRound <= 0 {
		o.MaxRound = 10
	}
	if o.RandomTxCount <= 0 {
		o.RandomTxCount = 50
	}
	if o.TxLength <= 0 {
		o.TxLength = 1000
	}
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = 1000
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Network == "" {
		o.Network = "ETH"
	}
}

// Orchestrator wires the analysis components together. Oracle, Contracts,
// History and Indexes are required; everything else is optional.
type Orchestrator struct {
	Oracle    oracle.Oracle
	Contracts ContractSource
	History   target.History
	Indexes   *depindex.Analyzer

	Proxies   ImplementationResolver
	Solc      *solc.Manager
	Store     Store
	Findings  *report.FindingsLog
	Errors    *report.ErrorLog
	Metrics   *metrics.EngineMetrics
	Generator *abigen.Generator
	// OnFinding observes every confirmed leak after it has been persisted.
	OnFinding func(report.Finding)

	opts Options

	countMu sync.Mutex
	counts  map[string]int

	viewMu      sync.Mutex
	views       map[string]*contractView
	unavailable map[string]error
	viewGroup   singleflight.Group
}

func New(opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		Findings:    report.NewFindingsLog(opts.OutputDir),
		Errors:      report.NewErrorLog(opts.OutputDir),
		Generator:   abigen.Default,
		opts:        opts,
		counts:      make(map[string]int),
		views:       make(map[string]*contractView),
		unavailable: make(map[string]error),
	}
}

// Run analyses the history of address and returns the run summary.
func (o *Orchestrator) Run(ctx context.Context, address string) (*report.Summary, error) {
	if o.Oracle == nil || o.History == nil {
		return nil, fmt.Errorf("orchestrator is missing its oracle or history source")
	}
	address = strings.ToLower(address)
	tally := report.NewTally(address, o.opts.Network)

	txs, err := target.GetTxChannel(ctx, o.History, address, target.StreamConfig{
		PageSize: o.opts.TxLength,
		MaxRound: o.opts.MaxRound,
	})
	if err != nil {
		return nil, err
	}

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)

	for tx := range txs {
		if ctx.Err() != nil {
			break
		}
		tally.TxSeen()
		tx := tx
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Panic while processing %s: %v\n%s", tx.Hash, r, debug.Stack())
					tally.Error()
				}
			}()
			o.ProcessTx(ctx, tally, tx)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		logger.Warn("Analysis of %s interrupted: %v", address, ctx.Err())
	}
	return tally.Snapshot(), nil
}

// admit counts tx against its selector's test budget.
func (o *Orchestrator) admit(selector string) bool {
	o.countMu.Lock()
	defer o.countMu.Unlock()
	o.counts[selector]++
	return o.counts[selector] <= o.opts.MaxTest
}

// ProcessTx replays one observed transaction and probes every function it
// reaches. Failures are logged against the transaction and never returned.
func (o *Orchestrator) ProcessTx(ctx context.Context, tally *report.Tally, tx explorer.Tx) {
	if tx.Skippable() {
		tally.TxSkipped()
		o.Metrics.TargetTx("skipped")
		return
	}
	victimAddr := strings.ToLower(tx.To)
	victim := observedContext(tx)
	selector := strings.ToLower(victim.FunctionSign)

	if !o.admit(selector) {
		logger.Info("Selector %s of %s reached max test count, skipping %s", selector, victimAddr, tx.Hash)
		tally.TxSkipped()
		o.Metrics.TargetTx("max_test")
		return
	}

	if _, err := o.Oracle.Replay(ctx, victim); err != nil {
		o.recordError(tally, victimAddr, victimAddr, fmt.Errorf("replay %s: %w", tx.Hash, err))
		o.Metrics.TargetTx("replay_failed")
		return
	}
	tally.TxReplayed()

	rec, err := callgraph.LoadRecord(callgraph.RecordPath(o.opts.RecordDir, victimAddr, tx.Hash))
	if err != nil {
		o.recordError(tally, victimAddr, victimAddr, err)
		o.Metrics.TargetTx("no_record")
		return
	}

	victimLogic := o.resolveLogic(ctx, rec, victimAddr)
	if view, err := o.loadView(ctx, victimLogic); err != nil {
		logger.Debug("Victim %s not analysed: %v", victimLogic, err)
	} else if fn := implicit.Resolve(selector, view.Index, view.Selectors).Function; view.Index.IsOwnerOnly(fn) {
		logger.Info("Victim function %s of %s is owner only, skipping %s", fn, victimAddr, tx.Hash)
		tally.TxSkipped()
		o.Metrics.TargetTx("owner_only")
		return
	}

	agg := callgraph.Aggregate(rec, o.leafFilter(ctx, tally, victimAddr))
	candidates := callgraph.Candidates(agg.Rank())
	logger.Info("Tx %s: %d ranked functions", tx.Hash, len(candidates))

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return
		}
		o.checkCandidate(ctx, tally, rec, victimAddr, victim, cand)
	}
	o.Metrics.TargetTx("done")
}

// leafFilter drops root-level self calls into owner-only functions. Leaves
// whose contract cannot be analysed are kept.
func (o *Orchestrator) leafFilter(ctx context.Context, tally *report.Tally, victimAddr string) callgraph.LeafFilter {
	return func(leaf *callgraph.Node, logic string) bool {
		view, err := o.loadView(ctx, logic)
		if err != nil {
			o.recordError(tally, victimAddr, logic, err)
			return true
		}
		fn := implicit.Resolve(leaf.CalledFunctionSignature, view.Index, view.Selectors).Function
		return !view.Index.IsOwnerOnly(fn)
	}
}

// checkCandidate resolves the implicit dependencies of one ranked function
// and probes each of them.
func (o *Orchestrator) checkCandidate(ctx context.Context, tally *report.Tally, rec *callgraph.Record, victimAddr string, victim oracle.TxContext, cand callgraph.Candidate) {
	storage := strings.ToLower(cand.Contract)
	logic := o.resolveLogic(ctx, rec, storage)

	view, err := o.loadView(ctx, logic)
	if err != nil {
		o.recordError(tally, victimAddr, logic, err)
		return
	}

	res := implicit.Resolve(cand.Selector, view.Index, view.Selectors)
	if res.Function == implicit.FallbackFunction {
		logger.Debug("Selector %s not in ABI of %s", cand.Selector, logic)
		return
	}
	if len(res.Dependencies) == 0 {
		return
	}
	logger.Info("%s.%s has %d implicit dependencies", storage, res.Function, len(res.Dependencies))

	for _, dep := range res.Dependencies {
		if ctx.Err() != nil {
			return
		}
		o.probe(ctx, &probeState{
			tally:       tally,
			victimAddr:  victimAddr,
			victim:      victim,
			cand:        cand,
			storage:     storage,
			view:        view,
			relatedSig:  cand.Selector,
			relatedName: res.Function,
		}, dep)
	}
}

func (o *Orchestrator) recordError(tally *report.Tally, origin, address string, err error) {
	tally.Error()
	logger.Warn("[%s] %s: %v", origin, address, err)
	if o.Errors == nil {
		return
	}
	if werr := o.Errors.Record(origin, address, err.Error()); werr != nil {
		logger.Error("Failed to write error log: %v", werr)
	}
}

// observedContext converts an explorer transaction into the oracle's form.
func observedContext(tx explorer.Tx) oracle.TxContext {
	sign := tx.MethodID
	if sign == "" && len(tx.Input) >= 10 {
		sign = tx.Input[:10]
	}
	if sign == "" || sign == "0x" {
		sign = "0x00000000"
	}
	return oracle.TxContext{
		BlockNumber:  tx.BlockNumber,
		BlockHash:    tx.BlockHash,
		TimeStamp:    tx.TimeStamp,
		Hash:         tx.Hash,
		From:         tx.From,
		To:           tx.To,
		Value:        tx.Value,
		Input:        tx.Input,
		FunctionName: tx.FunctionName,
		IsError:      tx.IsError,
		FunctionSign: sign,
	}
}
