package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slotReader struct {
	slots map[common.Address][]byte
	err   error
	key   common.Hash
}

func (s *slotReader) StorageAt(_ context.Context, account common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	s.key = key
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.slots[account]; ok {
		return v, nil
	}
	return make([]byte, 32), nil
}

func TestImplementationSlot(t *testing.T) {
	proxy := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	logic := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	reader := &slotReader{slots: map[common.Address][]byte{
		proxy: common.LeftPadBytes(logic.Bytes(), 32),
	}}

	impl, err := Implementation(context.Background(), reader, proxy.Hex())
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", impl)
	assert.Equal(t, ImplementationSlot, reader.key)

	impl, err = Implementation(context.Background(), reader, "0x00000000000000000000000000000000000000cc")
	require.NoError(t, err)
	assert.Empty(t, impl)
}

func TestImplementationErrors(t *testing.T) {
	_, err := Implementation(context.Background(), &slotReader{}, "not-an-address")
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = Implementation(context.Background(), &slotReader{err: boom}, "0x00000000000000000000000000000000000000aa")
	assert.ErrorIs(t, err, boom)

	var r *SlotResolver
	impl, err := r.Implementation(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Empty(t, impl)
}
