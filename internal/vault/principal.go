package vault

import "strings"

// Principal is an address-like identity able to initiate operations
// against a vault. The zero value is the null principal, which no vault
// field may ever hold.
type Principal string

// Null is the null principal.
const Null Principal = ""

// IsNull reports whether the principal is the null principal.
func (p Principal) IsNull() bool {
	return strings.TrimSpace(string(p)) == ""
}

// String returns the principal address.
func (p Principal) String() string {
	return string(p)
}

// NewPrincipal generates a principal address using UUIDv4 bytes encoded
// as base32. The address is 26 characters long, lowercase, and contains
// no padding.
func NewPrincipal() (Principal, error) {
	id, err := NewID()
	if err != nil {
		return Null, err
	}
	return Principal(id), nil
}
