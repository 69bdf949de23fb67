package accessctl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/VectorBits/crossleak/src/internal/facts"
)

var (
	sender = facts.Operand{Kind: facts.KindIdentityPrimitive, Name: "msg.sender"}
	owner  = facts.Operand{Kind: facts.KindStateVariable, Name: "owner", Type: "address"}
)

func eq(l, r facts.Operand) facts.Comparison {
	return facts.Comparison{Op: "==", Left: l, Right: r}
}

func contractWith(mods ...facts.Modifier) *facts.Contract {
	return (&facts.Contract{Name: "C", Modifiers: mods}).Prepare()
}

func TestClassifyOwnerOnly(t *testing.T) {
	c := NewClassifier(contractWith(facts.Modifier{
		Signature: "onlyOwner()",
		Body: facts.Body{
			Reads:       []facts.Operand{owner, sender},
			Comparisons: []facts.Comparison{eq(sender, owner)},
		},
	}))

	r := c.Classify("onlyOwner()")
	assert.Equal(t, Result{UsesIdentity: true, UsesState: true}, r)
	assert.True(t, r.OwnerOnly())
	assert.Equal(t, []string{"onlyOwner()"}, c.OwnerOnlyModifiers())
}

func TestClassifyCapturedIdentity(t *testing.T) {
	tests := []struct {
		name  string
		other facts.Operand
	}{
		{"memory local", facts.Operand{Kind: facts.KindLocalVariable, Name: "who", Location: facts.LocationMemory}},
		{"call result", facts.Operand{Kind: facts.KindCallResult, Name: "getCaller()"}},
		{"tx origin", facts.Operand{Kind: facts.KindOriginPrimitive, Name: "tx.origin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(contractWith(facts.Modifier{
				Signature: "guard()",
				Body: facts.Body{
					Reads:       []facts.Operand{owner, sender},
					Comparisons: []facts.Comparison{eq(tt.other, sender), eq(sender, owner)},
				},
			}))
			r := c.Classify("guard()")
			assert.True(t, r.IdentityCaptured)
			assert.False(t, r.UsesIdentity)
			assert.False(t, r.OwnerOnly())
		})
	}
}

func TestClassifyStorageLocalIsNotCaptured(t *testing.T) {
	local := facts.Operand{Kind: facts.KindLocalVariable, Name: "cfg", Location: facts.LocationStorage}
	c := NewClassifier(contractWith(facts.Modifier{
		Signature: "guard()",
		Body: facts.Body{
			Reads:       []facts.Operand{owner, sender},
			Comparisons: []facts.Comparison{eq(local, sender)},
		},
	}))
	assert.True(t, c.Classify("guard()").OwnerOnly())
}

func TestClassifyRecursesIntoInternalCalls(t *testing.T) {
	contract := &facts.Contract{
		Name: "C",
		Modifiers: []facts.Modifier{{
			Signature: "onlyRole()",
			Body:      facts.Body{InternalCalls: []string{"_checkRole()", "require(bool)"}},
		}},
		Functions: []facts.Function{{
			Signature:  "_checkRole()",
			Visibility: facts.VisibilityInternal,
			Body: facts.Body{
				Reads: []facts.Operand{
					{Kind: facts.KindStateVariable, Name: "roles", Type: "mapping(address => bool)"},
					sender,
				},
				Comparisons: []facts.Comparison{eq(sender, facts.Operand{Kind: facts.KindStateVariable, Name: "admin", Type: "address"})},
			},
		}},
	}
	c := NewClassifier(contract.Prepare())
	assert.True(t, c.Classify("onlyRole()").OwnerOnly())
}

func TestClassifySelfReferenceTerminates(t *testing.T) {
	c := NewClassifier(contractWith(
		facts.Modifier{Signature: "a()", Body: facts.Body{InternalCalls: []string{"b()"}}},
		facts.Modifier{Signature: "b()", Body: facts.Body{InternalCalls: []string{"a()", "b()"}, HasExternalCalls: true}},
	))
	r := c.Classify("a()")
	assert.True(t, r.UsesState)
	assert.False(t, r.UsesIdentity)
}

func TestExternalCallForcesState(t *testing.T) {
	c := NewClassifier(contractWith(facts.Modifier{
		Signature: "onlyRegistry()",
		Body: facts.Body{
			Reads:            []facts.Operand{sender},
			Comparisons:      []facts.Comparison{eq(sender, facts.Operand{Kind: facts.KindLiteral, Name: "0x01"})},
			HasExternalCalls: true,
		},
	}))
	r := c.Classify("onlyRegistry()")
	assert.True(t, r.UsesState)
	assert.True(t, r.OwnerOnly())
}

// Every owner-only result satisfies all three conjuncts, every other result
// violates at least one.
func TestOwnerOnlyPredicate(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		r := Result{
			UsesIdentity:     mask&1 != 0,
			UsesState:        mask&2 != 0,
			IdentityCaptured: mask&4 != 0,
		}
		want := r.UsesIdentity && r.UsesState && !r.IdentityCaptured
		assert.Equal(t, want, r.OwnerOnly(), "%+v", r)
	}
}

func TestGuardingModifiersFollowsCallChain(t *testing.T) {
	contract := (&facts.Contract{
		Name: "C",
		Functions: []facts.Function{
			{Signature: "setFee(uint256)", Visibility: "external", Body: facts.Body{InternalCalls: []string{"_setFee(uint256)"}}},
			{Signature: "_setFee(uint256)", Visibility: "internal", Modifiers: []string{"onlyOwner()"}, Body: facts.Body{InternalCalls: []string{"setFee(uint256)"}}},
		},
	}).Prepare()
	c := NewClassifier(contract)
	fn, _ := contract.Function("setFee(uint256)")

	got := c.GuardingModifiers(fn, map[string]bool{"onlyOwner()": true})
	assert.Equal(t, []string{"onlyOwner()"}, got)
	assert.Empty(t, c.GuardingModifiers(fn, map[string]bool{}))
}
