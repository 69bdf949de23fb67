// Package abigen produces random, type-correct arguments for ABI functions
// and the calldata and value mutations used to build candidate
// transactions.
package abigen

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindUint Kind = iota
	KindInt
	KindBool
	KindAddress
	KindBytes      // dynamic bytes
	KindFixedBytes // bytes1..bytes32
	KindString
	KindArray
	KindTuple
)

// Type is a parsed ABI type string.
type Type struct {
	Kind Kind
	// Size is the bit width of integers or the byte length of fixed bytes.
	Size int
	// Len is the array length, -1 for dynamic arrays.
	Len    int
	Elem   *Type
	Fields []*Type
}

// ParseType parses canonical ABI type strings such as "uint8", "address[3]"
// or "(uint256,(address,bool)[])[]".
func ParseType(s string) (*Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty type")
	}

	if strings.HasSuffix(s, "]") {
		open := matchingOpen(s, len(s)-1, '[', ']')
		if open < 0 {
			return nil, fmt.Errorf("unbalanced brackets in %q", s)
		}
		elem, err := ParseType(s[:open])
		if err != nil {
			return nil, err
		}
		length := -1
		if inner := s[open+1 : len(s)-1]; inner != "" {
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid array length in %q", s)
			}
			length = n
		}
		return &Type{Kind: KindArray, Len: length, Elem: elem}, nil
	}

	if strings.HasPrefix(s, "(") {
		if !strings.HasSuffix(s, ")") || matchingOpen(s, len(s)-1, '(', ')') != 0 {
			return nil, fmt.Errorf("unbalanced parentheses in %q", s)
		}
		t := &Type{Kind: KindTuple}
		for _, part := range splitTopLevel(s[1 : len(s)-1]) {
			field, err := ParseType(part)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, field)
		}
		return t, nil
	}

	return parseElementary(s)
}

func parseElementary(s string) (*Type, error) {
	switch {
	case s == "bool":
		return &Type{Kind: KindBool}, nil
	case s == "address" || s == "address payable":
		return &Type{Kind: KindAddress}, nil
	case s == "string":
		return &Type{Kind: KindString}, nil
	case s == "bytes":
		return &Type{Kind: KindBytes}, nil
	case strings.HasPrefix(s, "bytes"):
		n, err := strconv.Atoi(s[len("bytes"):])
		if err != nil || n < 1 || n > 32 {
			return nil, fmt.Errorf("invalid fixed bytes type %q", s)
		}
		return &Type{Kind: KindFixedBytes, Size: n}, nil
	case strings.HasPrefix(s, "uint"):
		n, err := bitSize(s[len("uint"):])
		if err != nil {
			return nil, fmt.Errorf("invalid type %q: %w", s, err)
		}
		return &Type{Kind: KindUint, Size: n}, nil
	case strings.HasPrefix(s, "int"):
		n, err := bitSize(s[len("int"):])
		if err != nil {
			return nil, fmt.Errorf("invalid type %q: %w", s, err)
		}
		return &Type{Kind: KindInt, Size: n}, nil
	}
	return nil, fmt.Errorf("unsupported type %q", s)
}

func bitSize(suffix string) (int, error) {
	if suffix == "" {
		return 256, nil
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n <= 0 || n > 256 || n%8 != 0 {
		return 0, fmt.Errorf("bad bit size %q", suffix)
	}
	return n, nil
}

// matchingOpen returns the index of the bracket that opens the one at close.
func matchingOpen(s string, close int, openCh, closeCh byte) int {
	depth := 0
	for i := close; i >= 0; i-- {
		switch s[i] {
		case closeCh:
			depth++
		case openCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits on commas that are not nested inside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(s[start:]) != "" || len(parts) > 0 {
		parts = append(parts, s[start:])
	}
	return parts
}

// String renders the canonical type string.
func (t *Type) String() string {
	switch t.Kind {
	case KindUint:
		return "uint" + strconv.Itoa(t.Size)
	case KindInt:
		return "int" + strconv.Itoa(t.Size)
	case KindBool:
		return "bool"
	case KindAddress:
		return "address"
	case KindBytes:
		return "bytes"
	case KindFixedBytes:
		return "bytes" + strconv.Itoa(t.Size)
	case KindString:
		return "string"
	case KindArray:
		if t.Len < 0 {
			return t.Elem.String() + "[]"
		}
		return t.Elem.String() + "[" + strconv.Itoa(t.Len) + "]"
	case KindTuple:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return "?"
}
