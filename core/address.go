package core

import (
	"fmt"
	"sort"

	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/crypto"
)

// Address identifies a participant: the hex-encoded ed25519 public key that
// signs its transactions. Addresses compare by value and order
// lexicographically.
type Address string

// ZeroAddress is the empty address returned by lookups that found nothing.
const ZeroAddress Address = ""

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Short returns the first 10 characters of a for log lines.
func (a Address) Short() string {
	if len(a) <= 10 {
		return string(a)
	}
	return string(a[:10]) + "..."
}

// ParseAddress validates that s is a hex-encoded ed25519 public key.
func ParseAddress(s string) (Address, error) {
	if _, err := crypto.PubKeyFromHex(s); err != nil {
		return ZeroAddress, fmt.Errorf("%w: address: %v", errs.ErrInvalidInput, err)
	}
	return Address(s), nil
}

// SortAddresses sorts addrs in place in ascending order.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
}
