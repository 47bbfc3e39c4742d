package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// HashLength is the number of bytes in a content hash. Blake3-256 digests are
// used both as object addresses and as routing keys.
const HashLength = 32

// Hash is a Blake3-256 digest. The zero value marks the absence of a
// reference.
type Hash [HashLength]byte

// ZeroHash is the all-zero digest.
var ZeroHash = Hash{}

// Sum256 returns the Blake3-256 digest of data.
func Sum256(data []byte) Hash {
	return blake3.Sum256(data)
}

// FromBytes converts a raw 32-byte slice into a Hash.
func FromBytes(raw []byte) (Hash, error) {
	if len(raw) != HashLength {
		return Hash{}, fmt.Errorf("invalid hash length: got %d, want %d", len(raw), HashLength)
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// FromHex parses a hexadecimal string into a Hash.
func FromHex(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	return FromBytes(raw)
}

// Bytes returns the digest as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String hex-encodes the digest.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the digest is the all-zero value.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Distance returns the XOR distance between two digests.
func (h Hash) Distance(other Hash) Hash {
	var d Hash
	for i := 0; i < HashLength; i++ {
		d[i] = h[i] ^ other[i]
	}
	return d
}

// Less compares digests lexicographically. It is used to order XOR distances
// and to break ties deterministically by identity byte order.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}
