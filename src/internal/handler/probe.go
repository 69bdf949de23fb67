package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/VectorBits/crossleak/src/internal/abigen"
	"github.com/VectorBits/crossleak/src/internal/callgraph"
	"github.com/VectorBits/crossleak/src/internal/explorer"
	"github.com/VectorBits/crossleak/src/internal/implicit"
	"github.com/VectorBits/crossleak/src/internal/logger"
	"github.com/VectorBits/crossleak/src/internal/oracle"
	"github.com/VectorBits/crossleak/src/internal/report"
	"github.com/VectorBits/crossleak/src/internal/target"
)

const (
	KindOrigin       = "origin"
	KindPayable      = "payable"
	KindRandom       = "random"
	KindWithoutInput = "without_input"
)

// probeState is the fixed context of one ranked function being probed.
type probeState struct {
	tally       *report.Tally
	victimAddr  string
	victim      oracle.TxContext
	cand        callgraph.Candidate
	storage     string
	view        *contractView
	relatedSig  string
	relatedName string
}

type candidateTx struct {
	tx   oracle.TxContext
	args []string
}

// probe checks dep against the victim, walking dep's history backwards page
// by page. A page without calls to dep is replaced by synthesized calls.
// It stops once MaxCheckCount candidates were checked.
func (o *Orchestrator) probe(ctx context.Context, p *probeState, dep string) {
	method, hasMethod := p.view.ABI.Method(dep)
	name := implicit.Name(dep)

	page, err := o.History.TxList(ctx, p.storage, "latest", o.opts.HistoryPageSize)
	if err != nil {
		o.recordError(p.tally, p.victimAddr, p.storage, fmt.Errorf("history of %s: %w", dep, err))
		page = nil
	}

	checked, round := 0, 0
	for checked < o.opts.MaxCheckCount {
		if ctx.Err() != nil {
			return
		}
		before := checked

		related := filterCalls(page, name)
		if len(related) == 0 {
			if !hasMethod {
				logger.Debug("No ABI entry for %s on %s, nothing to synthesize", dep, p.view.Address)
				return
			}
			for i := 0; i < o.opts.RandomTxCount; i++ {
				c, err := o.synthesize(p, dep, method)
				if err != nil {
					o.recordError(p.tally, p.victimAddr, p.storage, err)
					return
				}
				o.verify(ctx, p, dep, c)
			}
			checked += o.opts.RandomTxCount
		} else {
			for _, h := range related {
				for _, c := range o.variants(h, method, hasMethod) {
					o.verify(ctx, p, dep, c)
				}
			}
			checked += len(related)
		}

		if checked == before {
			return
		}

		round++
		next, ok := target.NextEndBlock(page)
		if round > o.opts.MaxRound || !ok {
			page = nil
			continue
		}
		page, err = o.History.TxList(ctx, p.storage, next, o.opts.HistoryPageSize)
		if err != nil {
			o.recordError(p.tally, p.victimAddr, p.storage, fmt.Errorf("history of %s: %w", dep, err))
			page = nil
		}
	}
}

// filterCalls keeps successful calls to the function called name.
func filterCalls(page []explorer.Tx, name string) []explorer.Tx {
	var out []explorer.Tx
	for _, tx := range page {
		if tx.Skippable() {
			continue
		}
		if implicit.Name(tx.FunctionName) != name {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// variants expands one historical call into the original, a value-perturbed
// copy when the function is payable, and an input-mutated copy when it
// takes arguments.
func (o *Orchestrator) variants(h explorer.Tx, method abi.Method, hasMethod bool) []candidateTx {
	origin := observedContext(h)
	origin.Type = KindOrigin
	out := []candidateTx{{tx: origin}}

	if hasMethod && abigen.Payable(method) {
		if value, err := o.Generator.PerturbValue(h.Value); err == nil {
			payable := origin
			payable.Value = value
			payable.Type = KindPayable
			out = append(out, candidateTx{tx: payable})
		} else {
			logger.Debug("Cannot perturb value of %s: %v", h.Hash, err)
		}
	}

	if len(h.Input) > 10 {
		random := origin
		random.Input = o.Generator.RandomChange(h.Input)
		random.Type = KindRandom
		out = append(out, candidateTx{tx: random})
	}
	return out
}

// synthesize builds a random call to dep in the victim's block, sent by the
// victim's sender to the storage contract.
func (o *Orchestrator) synthesize(p *probeState, dep string, method abi.Method) (candidateTx, error) {
	pool := addressPool(p.victim.From, p.victim.To, p.view.Address)
	input, values, err := o.Generator.Calldata(method, pool)
	if err != nil {
		return candidateTx{}, fmt.Errorf("failed to generate input for %s: %w", dep, err)
	}
	args := make([]string, len(values))
	for i, v := range values {
		args[i] = fmt.Sprint(v)
	}
	return candidateTx{
		tx: oracle.TxContext{
			BlockNumber:  p.victim.BlockNumber,
			BlockHash:    p.victim.BlockHash,
			TimeStamp:    p.victim.TimeStamp,
			Hash:         p.victim.Hash,
			From:         p.victim.From,
			To:           p.storage,
			Value:        o.Generator.SyntheticValue(abigen.Payable(method)),
			Input:        input,
			FunctionName: dep,
			IsError:      "0",
			FunctionSign: abigen.Selector(dep),
			Type:         KindWithoutInput,
		},
		args: args,
	}, nil
}

func addressPool(addrs ...string) []common.Address {
	pool := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		if common.IsHexAddress(a) {
			pool = append(pool, common.HexToAddress(a))
		}
	}
	return pool
}

// verify runs one candidate through the oracle and persists a confirmed
// leak. Oracle failures only skip the candidate.
func (o *Orchestrator) verify(ctx context.Context, p *probeState, dep string, c candidateTx) {
	p.tally.Candidate(c.tx.Type)
	o.Metrics.Candidate(c.tx.Type)

	verdict, err := o.Oracle.Verify(ctx, oracle.VerifyRequest{
		Target:           c.tx,
		Victim:           p.victim,
		RelatedSignature: p.relatedSig,
		RelatedName:      p.relatedName,
		Verified:         p.view.Index.IsVerifiedInput(dep),
	})
	if err != nil {
		o.recordError(p.tally, p.victimAddr, p.storage, fmt.Errorf("verify %s (%s): %w", dep, c.tx.Type, err))
		return
	}
	if !verdict.Leak {
		return
	}

	f := report.Finding{
		Victim:           p.victimAddr,
		VictimTxHash:     p.victim.Hash,
		VictimFunction:   p.victim.FunctionName,
		Kind:             c.tx.Type,
		Dapp:             p.cand.Dapp,
		TargetContract:   p.storage,
		TargetFunction:   dep,
		RelatedSignature: p.relatedSig,
		RelatedName:      p.relatedName,
		Input:            c.tx.Input,
		Value:            c.tx.Value,
		Arguments:        c.args,
		OracleArgs:       verdict.Args,
	}
	if c.tx.Type != KindWithoutInput {
		f.TargetTxHash = c.tx.Hash
	}
	o.persist(ctx, p.tally, f)
}

func (o *Orchestrator) persist(ctx context.Context, tally *report.Tally, f report.Finding) {
	logger.Info("Find Cross Contract Control Leak: %s.%s -> %s (%s)",
		f.TargetContract, f.TargetFunction, strings.ToLower(f.Victim), f.Kind)

	if o.Findings != nil {
		if err := o.Findings.Append(f); err != nil {
			logger.Error("Failed to append finding: %v", err)
		}
	}
	if o.Store != nil {
		if err := o.Store.SaveFinding(ctx, f); err != nil {
			logger.Warn("Failed to save finding: %v", err)
		}
	}
	tally.Finding(f)
	o.Metrics.Finding()
	if o.OnFinding != nil {
		o.OnFinding(f)
	}
}
