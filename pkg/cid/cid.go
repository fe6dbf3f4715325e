// Package cid implements content identifiers: deterministic digests over
// canonicalized structured values. Two structurally equal values always
// produce the same Cid, independent of map key order in the input.
package cid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// Cid is a 32-byte content digest. The zero value is not a valid Cid.
type Cid [Size]byte

// ErrSerialization is returned when a value cannot be canonicalized.
var ErrSerialization = errors.New("cid: value not canonicalizable")

// String returns the lowercase hex representation of the digest.
func (c Cid) String() string {
	return hex.EncodeToString(c[:])
}

// Bytes returns a copy of the digest bytes.
func (c Cid) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, c[:])
	return out
}

// IsZero reports whether c is the zero digest.
func (c Cid) IsZero() bool {
	return c == Cid{}
}

// MarshalJSON encodes the Cid as a hex string.
func (c Cid) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a hex string into the Cid.
func (c *Cid) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Parse decodes a lowercase hex digest string.
func Parse(s string) (Cid, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Cid{}, fmt.Errorf("cid: invalid hex %q: %w", s, err)
	}
	if len(raw) != Size {
		return Cid{}, fmt.Errorf("cid: expected %d bytes, got %d", Size, len(raw))
	}
	var c Cid
	copy(c[:], raw)
	return c, nil
}

// Algorithm selects the hash function used to derive a Cid.
type Algorithm string

const (
	// Sha256 is the default algorithm.
	Sha256 Algorithm = "sha2-256"
	// Blake3 is an optional, faster alternative.
	Blake3 Algorithm = "blake3-256"
)

// Computer derives Cids for structured values using a fixed algorithm.
// The zero value uses SHA-256.
type Computer struct {
	Algo Algorithm
}

// Compute canonicalizes v (RFC 8785 canonical JSON) and hashes the result.
func (cc Computer) Compute(v any) (Cid, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return Cid{}, err
	}
	return cc.Sum(canonical), nil
}

// Sum hashes already-canonical bytes.
func (cc Computer) Sum(data []byte) Cid {
	switch cc.Algo {
	case Blake3:
		return Cid(blake3.Sum256(data))
	default:
		return Cid(sha256.Sum256(data))
	}
}

// Verify reports whether v canonicalizes and hashes to want.
func (cc Computer) Verify(v any, want Cid) bool {
	got, err := cc.Compute(v)
	if err != nil {
		return false
	}
	return got == want
}

// Canonicalize serializes v to its RFC 8785 canonical JSON form: object keys
// sorted by UTF-16 code units, no insignificant whitespace, shortest number
// representation.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return canonical, nil
}

// Compute derives a Cid with the default SHA-256 algorithm.
func Compute(v any) (Cid, error) {
	return Computer{}.Compute(v)
}

// Verify checks v against want using the default algorithm.
func Verify(v any, want Cid) bool {
	return Computer{}.Verify(v, want)
}
