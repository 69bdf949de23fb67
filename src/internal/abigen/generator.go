package abigen

import (
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FallbackAddresses is used when no candidate address pool is supplied.
var FallbackAddresses = []common.Address{
	common.HexToAddress("0x96780224CB07A07C1449563C5dfc8500fFa0Ea2A"),
	common.HexToAddress("0xf97DdC7b1836c7bb14cD907EF9845A6c028428f4"),
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generator draws random values. Values are:
//
//	uintN, intN     *big.Int
//	bool            bool
//	address         common.Address
//	bytes, bytesN   []byte
//	string          string
//	arrays, tuples  []any
//
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Default is the process-wide generator.
var Default = NewGenerator(time.Now().UnixNano())

// Generate parses typ and returns a random value for it.
func (g *Generator) Generate(typ string, pool []common.Address) (any, error) {
	t, err := ParseType(typ)
	if err != nil {
		return nil, err
	}
	return g.Value(t, pool), nil
}

// Value returns a random value of type t. Addresses are drawn from pool,
// or from FallbackAddresses when pool is empty.
func (g *Generator) Value(t *Type, pool []common.Address) any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value(t, pool)
}

func (g *Generator) value(t *Type, pool []common.Address) any {
	switch t.Kind {
	case KindUint:
		if g.rng.Intn(3) == 0 {
			return new(big.Int)
		}
		return g.word(t.Size).ToBig()
	case KindInt:
		if g.rng.Intn(3) == 0 {
			return new(big.Int)
		}
		v := g.word(t.Size).ToBig()
		half := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		return v.Sub(v, half)
	case KindBool:
		return g.rng.Intn(3) != 0
	case KindAddress:
		if len(pool) == 0 {
			pool = FallbackAddresses
		}
		return pool[g.rng.Intn(len(pool))]
	case KindBytes:
		return g.bytes(1 + g.rng.Intn(29))
	case KindFixedBytes:
		return g.bytes(t.Size)
	case KindString:
		n := 1 + g.rng.Intn(10)
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = letters[g.rng.Intn(len(letters))]
		}
		if g.rng.Intn(3) < 2 {
			return ""
		}
		return string(buf)
	case KindArray:
		n := t.Len
		if n < 0 {
			n = 2 + g.rng.Intn(9)
		}
		out := make([]any, n)
		for i := range out {
			out[i] = g.value(t.Elem, pool)
		}
		return out
	case KindTuple:
		out := make([]any, len(t.Fields))
		for i, f := range t.Fields {
			out[i] = g.value(f, pool)
		}
		return out
	}
	return nil
}

// word is a uniformly random value of the given bit width.
func (g *Generator) word(bits int) *uint256.Int {
	v := &uint256.Int{g.rng.Uint64(), g.rng.Uint64(), g.rng.Uint64(), g.rng.Uint64()}
	if bits < 256 {
		mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bits))
		mask.SubUint64(mask, 1)
		v.And(v, mask)
	}
	return v
}

// bytes returns n random bytes where each nibble is forced to zero with
// probability one third.
func (g *Generator) bytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = g.nibble()<<4 | g.nibble()
	}
	return out
}

func (g *Generator) nibble() byte {
	if g.rng.Intn(3) == 0 {
		return 0
	}
	return byte(g.rng.Intn(16))
}
