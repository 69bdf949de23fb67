package target

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/VectorBits/crossleak/src/internal"
	"github.com/VectorBits/crossleak/src/internal/explorer"
	"github.com/VectorBits/crossleak/src/internal/logger"
)

// History pages an address's transactions, newest first.
// *explorer.Client satisfies it.
type History interface {
	TxList(ctx context.Context, address, endBlock string, offset int) ([]explorer.Tx, error)
}

type StreamConfig struct {
	// PageSize is the explorer offset of one page.
	PageSize int
	// MaxRound bounds the number of pages read.
	MaxRound int
	// EndBlock is where the first page ends; empty means latest.
	EndBlock string
}

// GetTxChannel streams the history of address page by page. Each page ends
// one block before the oldest transaction of the previous page. Contract
// creations and reverted transactions are dropped.
func GetTxChannel(ctx context.Context, history History, address string, cfg StreamConfig) (<-chan explorer.Tx, error) {
	if history == nil {
		return nil, fmt.Errorf("nil transaction history")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.MaxRound <= 0 {
		cfg.MaxRound = 10
	}
	endBlock := cfg.EndBlock
	if endBlock == "" {
		endBlock = "latest"
	}

	out := make(chan explorer.Tx, 100)

	go func() {
		defer close(out)

		for round := 0; round < cfg.MaxRound; round++ {
			page, err := history.TxList(ctx, address, endBlock, cfg.PageSize)
			if err != nil {
				logger.Error("Failed to list transactions of %s: %v", address, err)
				return
			}
			if len(page) == 0 {
				return
			}
			logger.Info("Round %d: found %d txs for %s", round, len(page), address)

			for _, tx := range page {
				if tx.Skippable() {
					continue
				}
				select {
				case out <- tx:
				case <-ctx.Done():
					return
				}
			}

			next, ok := NextEndBlock(page)
			if !ok {
				return
			}
			endBlock = next
		}
	}()

	return out, nil
}

// NextEndBlock is one block below the last transaction of page.
func NextEndBlock(page []explorer.Tx) (string, bool) {
	if len(page) == 0 {
		return "", false
	}
	last, err := strconv.ParseUint(page[len(page)-1].BlockNumber, 10, 64)
	if err != nil || last == 0 {
		return "", false
	}
	return strconv.FormatUint(last-1, 10), true
}

// ResolveAddresses lists the contracts to analyse: a single address or the
// entries of a target file.
func ResolveAddresses(address, file string) ([]string, error) {
	if strings.TrimSpace(file) != "" {
		lines, err := internal.ReadLines(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read target file: %w", err)
		}
		out := make([]string, 0, len(lines))
		for _, l := range lines {
			out = append(out, strings.ToLower(l))
		}
		return out, nil
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("missing target address: -t")
	}
	return []string{strings.ToLower(strings.TrimSpace(address))}, nil
}
