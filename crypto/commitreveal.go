package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/JdoubleU92/numgame/core/errs"
)

// Number domain accepted by the commit-reveal scheme.
const (
	MinNumber = 0
	MaxNumber = 1000
)

// Digest is a 32-byte commitment: SHA-256(salt || decimal(number)).
type Digest [sha256.Size]byte

// Hex returns the 0x-prefixed lowercase hex encoding of d.
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string { return d.Hex() }

// MarshalText encodes the digest as 0x-prefixed hex.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText accepts 0x-prefixed or bare hex.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 64-char hex digest with an optional 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: digest hex: %v", errs.ErrInvalidInput, err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("%w: digest must be %d bytes, got %d", errs.ErrInvalidInput, len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// ValidateNumber reports ErrInvalidInput unless n lies in [MinNumber, MaxNumber].
func ValidateNumber(n int) error {
	if n < MinNumber || n > MaxNumber {
		return fmt.Errorf("%w: number %d outside [%d, %d]", errs.ErrInvalidInput, n, MinNumber, MaxNumber)
	}
	return nil
}

// Hash is the chain's content identifier: bare lowercase hex of SHA-256.
// Transaction IDs, block hashes, the state root and derived instance IDs all
// use it. Unlike Digest it carries no 0x prefix.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeDigest hashes salt concatenated with the base-10 form of number.
func ComputeDigest(salt string, number int) (Digest, error) {
	if err := ValidateNumber(number); err != nil {
		return Digest{}, err
	}
	return sha256.Sum256([]byte(salt + strconv.Itoa(number))), nil
}

// VerifyDigest recomputes the digest for (salt, number) and compares it with
// digest. Out-of-range numbers never verify.
func VerifyDigest(digest Digest, salt string, number int) bool {
	got, err := ComputeDigest(salt, number)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got[:], digest[:]) == 1
}
