package facts

import "strings"

// splitMapping parses "mapping(K => V)" into K and V.
func splitMapping(t string) (from, to string, ok bool) {
	t = strings.TrimSpace(t)
	if !strings.HasPrefix(t, "mapping(") || !strings.HasSuffix(t, ")") {
		return "", "", false
	}
	inner := t[len("mapping(") : len(t)-1]
	depth := 0
	for i := 0; i+1 < len(inner); i++ {
		switch inner[i] {
		case '(':
			depth++
		case ')':
			depth--
		case '=':
			if depth == 0 && inner[i+1] == '>' {
				return strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+2:]), true
			}
		}
	}
	return "", "", false
}

func isAddressType(t string) bool {
	t = strings.TrimSpace(t)
	return t == "address" || t == "address payable"
}

// HoldsPrivilegedIdentity reports whether a state variable of type t can
// store an owner/role identity: a plain address, mapping(address => bool),
// or any mapping whose value is an address. One level of nested mapping is
// inspected the same way.
func HoldsPrivilegedIdentity(t string) bool {
	if isAddressType(t) {
		return true
	}
	from, to, ok := splitMapping(t)
	if !ok {
		return false
	}
	if isAddressType(from) && strings.TrimSpace(to) == "bool" {
		return true
	}
	if isAddressType(to) {
		return true
	}
	if nestedFrom, nestedTo, nested := splitMapping(to); nested {
		if isAddressType(nestedFrom) && strings.TrimSpace(nestedTo) == "bool" {
			return true
		}
		return isAddressType(nestedTo)
	}
	return false
}

// NeedsValidation reports whether a parameter of type t must appear in a
// require/assert condition for the function to count as input-verified.
// Numeric, boolean and string parameters are exempt.
func NeedsValidation(t string) bool {
	return !strings.Contains(t, "int") && !strings.Contains(t, "bool") && !strings.Contains(t, "string")
}
