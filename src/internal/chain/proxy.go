package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ImplementationSlot is bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1).
var ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// StorageReader is the subset of *ethclient.Client used here.
type StorageReader interface {
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// ClientSource yields a healthy RPC client. *config.RPCManager satisfies it.
type ClientSource interface {
	GetClient(ctx context.Context) (*ethclient.Client, error)
}

// Implementation reads the EIP-1967 implementation slot of address at the
// latest block. It returns "" when the slot is empty.
func Implementation(ctx context.Context, reader StorageReader, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	word, err := reader.StorageAt(ctx, common.HexToAddress(address), ImplementationSlot, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read implementation slot of %s: %w", address, err)
	}
	impl := common.BytesToAddress(word)
	if impl == (common.Address{}) {
		return "", nil
	}
	return strings.ToLower(impl.Hex()), nil
}

// SlotResolver looks implementations up through whichever node the source
// currently considers healthy.
type SlotResolver struct {
	Clients ClientSource
}

func (r *SlotResolver) Implementation(ctx context.Context, address string) (string, error) {
	if r == nil || r.Clients == nil {
		return "", nil
	}
	client, err := r.Clients.GetClient(ctx)
	if err != nil {
		return "", err
	}
	return Implementation(ctx, client, address)
}
