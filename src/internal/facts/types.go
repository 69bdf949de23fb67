package facts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags what an operand in a modifier or function body refers to.
type Kind int

const (
	KindUnknown Kind = iota
	KindStateVariable
	KindLocalVariable
	KindCallResult
	KindLiteral
	KindOriginPrimitive   // tx.origin
	KindIdentityPrimitive // msg.sender
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindStateVariable:     "state_variable",
	KindLocalVariable:     "local_variable",
	KindCallResult:        "call_result",
	KindLiteral:           "literal",
	KindOriginPrimitive:   "origin",
	KindIdentityPrimitive: "identity",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown operand kind %q", s)
}

const (
	LocationMemory   = "memory"
	LocationStorage  = "storage"
	LocationCalldata = "calldata"
)

// Operand is one side of a comparison or one variable read by a body.
type Operand struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Location string `json:"location,omitempty"`
}

func (o Operand) String() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Kind.String()
}

// AttackerInfluenced reports whether a value of this operand can be chosen
// by whoever sends the transaction.
func (o Operand) AttackerInfluenced() bool {
	switch o.Kind {
	case KindCallResult, KindOriginPrimitive:
		return true
	case KindLocalVariable:
		return o.Location == "" || o.Location == LocationMemory
	}
	return false
}

// Comparison is a binary expression found in a statement node, either
// standalone or as an argument of require/assert.
type Comparison struct {
	Op    string  `json:"op"`
	Left  Operand `json:"left"`
	Right Operand `json:"right"`
}

// StateVar is a storage variable touched by a function.
type StateVar struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Contract  string `json:"contract,omitempty"`
	Constant  bool   `json:"constant,omitempty"`
	Immutable bool   `json:"immutable,omitempty"`
}

type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Body holds what the access-control classifier needs from any callable.
type Body struct {
	Reads            []Operand    `json:"reads,omitempty"`
	Comparisons      []Comparison `json:"comparisons,omitempty"`
	InternalCalls    []string     `json:"internal_calls,omitempty"`
	HasExternalCalls bool         `json:"has_external_calls,omitempty"`
}

type Modifier struct {
	Signature string `json:"signature"`
	Body
}

const (
	VisibilityPublic   = "public"
	VisibilityExternal = "external"
	VisibilityInternal = "internal"
	VisibilityPrivate  = "private"
)

type Function struct {
	Signature     string      `json:"signature"`
	Name          string      `json:"name"`
	Visibility    string      `json:"visibility"`
	Pure          bool        `json:"pure,omitempty"`
	Payable       bool        `json:"payable,omitempty"`
	IsConstructor bool        `json:"is_constructor,omitempty"`
	IsFallback    bool        `json:"is_fallback,omitempty"`
	Empty         bool        `json:"empty,omitempty"`
	NonReentrant  bool        `json:"non_reentrant,omitempty"`
	StateReads    []StateVar  `json:"state_reads,omitempty"`
	StateWrites   []StateVar  `json:"state_writes,omitempty"`
	Modifiers     []string    `json:"modifiers,omitempty"`
	Parameters    []Parameter `json:"parameters,omitempty"`
	Requires      []string    `json:"requires,omitempty"`
	Body
}

const (
	ContractKindContract  = "contract"
	ContractKindInterface = "interface"
	ContractKindLibrary   = "library"
)

// Contract is everything the static front-end reports for one address.
// It is immutable once produced.
type Contract struct {
	Address        string     `json:"address"`
	Name           string     `json:"name"`
	Kind           string     `json:"kind"`
	StateVariables []StateVar `json:"state_variables"`
	Functions      []Function `json:"functions"`
	Modifiers      []Modifier `json:"modifiers"`

	functionIndex map[string]int
	modifierIndex map[string]int
	stateIndex    map[string]struct{}
}

func (c *Contract) buildIndex() {
	if c.functionIndex != nil {
		return
	}
	c.functionIndex = make(map[string]int, len(c.Functions))
	for i, fn := range c.Functions {
		if _, dup := c.functionIndex[fn.Signature]; !dup {
			c.functionIndex[fn.Signature] = i
		}
	}
	c.modifierIndex = make(map[string]int, len(c.Modifiers))
	for i, m := range c.Modifiers {
		if _, dup := c.modifierIndex[m.Signature]; !dup {
			c.modifierIndex[m.Signature] = i
		}
	}
	c.stateIndex = make(map[string]struct{}, len(c.StateVariables))
	for _, v := range c.StateVariables {
		c.stateIndex[stateKey(v.Contract, v.Name)] = struct{}{}
	}
}

func stateKey(contract, name string) string {
	return contract + "." + name
}

// Prepare builds lookup tables. Call it once before sharing the contract
// between goroutines.
func (c *Contract) Prepare() *Contract {
	c.buildIndex()
	return c
}

func (c *Contract) Function(signature string) (*Function, bool) {
	c.buildIndex()
	i, ok := c.functionIndex[signature]
	if !ok {
		return nil, false
	}
	return &c.Functions[i], true
}

func (c *Contract) Modifier(signature string) (*Modifier, bool) {
	c.buildIndex()
	i, ok := c.modifierIndex[signature]
	if !ok {
		return nil, false
	}
	return &c.Modifiers[i], true
}

// Callable resolves an internal-call target to its body, preferring
// modifiers over functions of the same signature.
func (c *Contract) Callable(signature string) (*Body, bool) {
	if m, ok := c.Modifier(signature); ok {
		return &m.Body, true
	}
	if fn, ok := c.Function(signature); ok {
		return &fn.Body, true
	}
	return nil, false
}

// Declares reports whether v belongs to this contract's storage layout.
// A variable without a declaring contract is matched by name alone.
func (c *Contract) Declares(v StateVar) bool {
	c.buildIndex()
	if v.Contract != "" {
		_, ok := c.stateIndex[stateKey(v.Contract, v.Name)]
		return ok
	}
	for _, sv := range c.StateVariables {
		if sv.Name == v.Name {
			return true
		}
	}
	return false
}

// NeedsRecord is false for interfaces and libraries.
func (c *Contract) NeedsRecord() bool {
	kind := strings.ToLower(strings.TrimSpace(c.Kind))
	return kind != ContractKindInterface && kind != ContractKindLibrary
}
