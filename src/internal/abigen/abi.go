package abigen

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector returns the "0x"-prefixed 4-byte selector of a canonical
// signature.
func Selector(signature string) string {
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4])
}

// ContractABI wraps a parsed contract ABI.
type ContractABI struct {
	abi abi.ABI
}

func ParseABI(abiJSON string) (*ContractABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return &ContractABI{abi: parsed}, nil
}

// SelectorMap maps every function selector to its canonical signature.
func (c *ContractABI) SelectorMap() map[string]string {
	out := make(map[string]string, len(c.abi.Methods))
	for _, m := range c.abi.Methods {
		out["0x"+hex.EncodeToString(m.ID)] = m.Sig
	}
	return out
}

// Method finds a function by canonical signature, falling back to the first
// function with the same name.
func (c *ContractABI) Method(signature string) (abi.Method, bool) {
	for _, m := range c.abi.Methods {
		if m.Sig == signature {
			return m, true
		}
	}
	name := signature
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	for _, m := range c.abi.Methods {
		if m.RawName == name {
			return m, true
		}
	}
	return abi.Method{}, false
}

func Payable(m abi.Method) bool {
	return m.Payable || m.StateMutability == "payable"
}

// Calldata builds a random call to m: the selector followed by the
// ABI-encoded arguments. It also returns the generated argument values.
func (g *Generator) Calldata(m abi.Method, pool []common.Address) (string, []any, error) {
	values := make([]any, len(m.Inputs))
	for i, in := range m.Inputs {
		t, err := ParseType(in.Type.String())
		if err != nil {
			return "", nil, fmt.Errorf("argument %d of %s: %w", i, m.Sig, err)
		}
		values[i] = g.Value(t, pool)
	}
	packed, err := Encode(m.Inputs, values)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", m.Sig, err)
	}
	return "0x" + hex.EncodeToString(m.ID) + hex.EncodeToString(packed), values, nil
}

// Encode ABI-encodes generator values for args.
func Encode(args abi.Arguments, values []any) ([]byte, error) {
	if len(args) != len(values) {
		return nil, fmt.Errorf("have %d values for %d arguments", len(values), len(args))
	}
	converted := make([]any, len(values))
	for i, arg := range args {
		v, err := toNative(arg.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, arg.Type.String(), err)
		}
		converted[i] = v.Interface()
	}
	return args.Pack(converted...)
}

var bigIntType = reflect.TypeOf(&big.Int{})

// toNative converts a generator value into the Go type the ABI packer
// expects for t.
func toNative(t abi.Type, v any) (reflect.Value, error) {
	goType := t.GetType()
	switch t.T {
	case abi.UintTy, abi.IntTy:
		n, ok := v.(*big.Int)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want *big.Int, got %T", v)
		}
		if goType == bigIntType {
			return reflect.ValueOf(new(big.Int).Set(n)), nil
		}
		out := reflect.New(goType).Elem()
		if t.T == abi.UintTy {
			out.SetUint(n.Uint64())
		} else {
			out.SetInt(n.Int64())
		}
		return out, nil
	case abi.BoolTy:
		b, ok := v.(bool)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want bool, got %T", v)
		}
		return reflect.ValueOf(b), nil
	case abi.AddressTy:
		a, ok := v.(common.Address)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want address, got %T", v)
		}
		return reflect.ValueOf(a), nil
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want string, got %T", v)
		}
		return reflect.ValueOf(s), nil
	case abi.BytesTy:
		b, ok := v.([]byte)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want bytes, got %T", v)
		}
		return reflect.ValueOf(b), nil
	case abi.FixedBytesTy:
		b, ok := v.([]byte)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want bytes, got %T", v)
		}
		out := reflect.New(goType).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out, nil
	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("want sequence, got %T", v)
		}
		var out reflect.Value
		if t.T == abi.SliceTy {
			out = reflect.MakeSlice(goType, len(items), len(items))
		} else {
			if len(items) != t.Size {
				return reflect.Value{}, fmt.Errorf("want %d elements, got %d", t.Size, len(items))
			}
			out = reflect.New(goType).Elem()
		}
		for i, item := range items {
			ev, err := toNative(*t.Elem, item)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case abi.TupleTy:
		items, ok := v.([]any)
		if !ok || len(items) != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("want %d tuple fields, got %v", len(t.TupleElems), v)
		}
		out := reflect.New(goType).Elem()
		for i, elem := range t.TupleElems {
			fv, err := toNative(*elem, items[i])
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(i).Set(fv)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported ABI type %s", t.String())
}

// NewArguments builds ABI arguments from canonical type strings. Tuple
// components are named field0, field1, ...
func NewArguments(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, len(types))
	for i, s := range types {
		t, err := ParseType(s)
		if err != nil {
			return nil, err
		}
		typ, comps := marshaling(t)
		at, err := abi.NewType(typ, "", comps)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", s, err)
		}
		args[i] = abi.Argument{Type: at}
	}
	return args, nil
}

func marshaling(t *Type) (string, []abi.ArgumentMarshaling) {
	switch t.Kind {
	case KindArray:
		inner, comps := marshaling(t.Elem)
		if t.Len < 0 {
			return inner + "[]", comps
		}
		return fmt.Sprintf("%s[%d]", inner, t.Len), comps
	case KindTuple:
		comps := make([]abi.ArgumentMarshaling, len(t.Fields))
		for i, f := range t.Fields {
			typ, sub := marshaling(f)
			comps[i] = abi.ArgumentMarshaling{Name: fmt.Sprintf("field%d", i), Type: typ, Components: sub}
		}
		return "tuple", comps
	}
	return t.String(), nil
}
