package implicit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/VectorBits/crossleak/src/internal/depindex"
	"github.com/VectorBits/crossleak/src/internal/facts"
)

var (
	sender  = facts.Operand{Kind: facts.KindIdentityPrimitive, Name: "msg.sender"}
	ownerOp = facts.Operand{Kind: facts.KindStateVariable, Name: "owner", Type: "address"}
)

func selectors() map[string]string {
	return map[string]string{
		"0x4e71d92d": "claim()",
		"0x3ccfd60b": "withdraw()",
		"0x8a4068dd": "transfer()",
	}
}

func TestResolveEndToEnd(t *testing.T) {
	balance := facts.StateVar{Name: "balance", Type: "uint256"}
	c := (&facts.Contract{
		Name:           "Vault",
		StateVariables: []facts.StateVar{balance, {Name: "owner", Type: "address"}},
		Modifiers: []facts.Modifier{{
			Signature: "onlyOwner()",
			Body: facts.Body{
				Reads:       []facts.Operand{ownerOp, sender},
				Comparisons: []facts.Comparison{{Op: "==", Left: sender, Right: ownerOp}},
			},
		}},
		Functions: []facts.Function{
			{Signature: "claim()", Visibility: facts.VisibilityExternal, StateReads: []facts.StateVar{balance}, StateWrites: []facts.StateVar{balance}},
			{Signature: "withdraw()", Visibility: facts.VisibilityExternal, Modifiers: []string{"onlyOwner()"}, StateWrites: []facts.StateVar{balance}},
			{Signature: "transfer()", Visibility: facts.VisibilityExternal, StateWrites: []facts.StateVar{balance}},
		},
	}).Prepare()

	idx := depindex.Build(c, nil)
	r := Resolve("0x4E71D92D", idx, selectors())
	assert.Equal(t, "claim()", r.Function)
	assert.Equal(t, []string{"transfer()"}, r.Dependencies)
}

func index() *depindex.Index {
	idx := depindex.New()
	idx.FunctionRead["claim()"] = []string{"balance", "rate"}
	idx.StorageWriteUnique["balance"] = []string{"claim()", "withdraw()", "transfer()"}
	idx.StorageWriteUnique["rate"] = []string{"transfer()", "setRate()"}
	idx.OnlyOwnerFunction["withdraw()"] = []string{"onlyOwner()"}
	idx.OnlyOwnerFunction["transfer()"] = []string{}
	idx.OnlyOwnerFunction["setRate()"] = []string{}
	return idx
}

func TestDependenciesNeverContainTargetOrOwnerOnly(t *testing.T) {
	idx := index()
	deps := Dependencies("claim()", idx)
	assert.Equal(t, []string{"transfer()", "setRate()"}, deps)
	for _, d := range deps {
		assert.NotEqual(t, "claim()", d)
		assert.False(t, idx.IsOwnerOnly(d))
	}
}

func TestSharedReentrancyGuardExcludesWriter(t *testing.T) {
	idx := index()
	idx.NonReentrant["claim()"] = 1
	idx.NonReentrant["transfer()"] = 1
	assert.Equal(t, []string{"setRate()"}, Dependencies("claim()", idx))

	// a guard on the writer alone does not exclude it
	idx.NonReentrant["claim()"] = 0
	assert.Equal(t, []string{"transfer()", "setRate()"}, Dependencies("claim()", idx))
}

func TestUnmappedSelectorIsFallback(t *testing.T) {
	r := Resolve("0x00000000", index(), selectors())
	assert.Equal(t, FallbackFunction, r.Function)
	assert.Empty(t, r.Dependencies)
}

func TestUnrecordedFunctionHasNoDependencies(t *testing.T) {
	r := Resolve("0x3ccfd60b", index(), selectors())
	assert.Equal(t, "withdraw()", r.Function)
	assert.Empty(t, r.Dependencies)
}

func TestName(t *testing.T) {
	assert.Equal(t, "transfer", Name("transfer(address,uint256)"))
	assert.Equal(t, "fallback", Name("fallback"))
}
