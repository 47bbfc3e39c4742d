package store

import (
	"errors"

	"github.com/astreum/astreum-go/src/crypto"
)

var (
	// ErrNotFound is returned by Get when the store holds no record under
	// the requested hash.
	ErrNotFound = errors.New("record not found")

	// ErrStorageExhausted is returned by Put when the write cannot fit even
	// after evicting every evictable record.
	ErrStorageExhausted = errors.New("storage exhausted")
)

// Store is a content-addressed record store with a hard capacity bound.
type Store interface {
	// Put writes the record bytes under their content hash and returns the
	// hash. It is idempotent when the record is already present.
	Put(data []byte) (crypto.Hash, error)

	// Get returns the record bytes, refreshing the record's last-accessed
	// marker. It returns ErrNotFound for absent records.
	Get(hash crypto.Hash) ([]byte, error)

	// Has reports whether the record is present without touching the
	// last-accessed marker.
	Has(hash crypto.Hash) bool

	// UsedBytes returns the number of bytes currently accounted against the
	// capacity.
	UsedBytes() int64

	// CapacityRemaining reports the free budget.
	CapacityRemaining() int64

	Close() error
}
