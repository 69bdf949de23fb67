package abigen

import (
	"fmt"
	"math/big"
	"strings"
)

const hexDigits = "0123456789abcdef"

// selectorPrefix is "0x" plus the 4-byte selector.
const selectorPrefix = 10

// RandomChange mutates calldata after the selector: zero nibbles are kept,
// every other nibble is replaced by a random one with probability one half.
// Inputs without arguments are returned unchanged.
func (g *Generator) RandomChange(input string) string {
	if len(input) <= selectorPrefix {
		return input
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.Grow(len(input))
	b.WriteString(input[:selectorPrefix])
	for i := selectorPrefix; i < len(input); i++ {
		c := input[i]
		if c != '0' && g.rng.Float64() <= 0.5 {
			c = hexDigits[g.rng.Intn(len(hexDigits))]
		}
		b.WriteByte(c)
	}
	return b.String()
}

// PerturbValue adds a random amount in [1, 1e8] wei to a decimal value.
func (g *Generator) PerturbValue(value string) (string, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return "", fmt.Errorf("invalid value %q", value)
	}
	g.mu.Lock()
	delta := int64(1 + g.rng.Intn(100000000))
	g.mu.Unlock()
	return v.Add(v, big.NewInt(delta)).String(), nil
}

var (
	minSyntheticValue, _ = new(big.Int).SetString("10000000000000000000", 10)  // 1e19
	maxSyntheticValue, _ = new(big.Int).SetString("100000000000000000000", 10) // 1e20
)

// SyntheticValue is the value of a synthesized call: uniform in
// [1e19, 1e20] wei for payable functions, "0" otherwise.
func (g *Generator) SyntheticValue(payable bool) string {
	if !payable {
		return "0"
	}
	span := new(big.Int).Sub(maxSyntheticValue, minSyntheticValue)
	span.Add(span, big.NewInt(1))
	g.mu.Lock()
	v := new(big.Int).Rand(g.rng, span)
	g.mu.Unlock()
	return v.Add(v, minSyntheticValue).String()
}
