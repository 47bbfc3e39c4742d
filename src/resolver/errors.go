package resolver

import (
	"errors"
	"fmt"

	"github.com/astreum/astreum-go/src/crypto"
)

var (
	// ErrRecursionLimitExceeded is returned when the object graph is deeper
	// than the depth budget allows.
	ErrRecursionLimitExceeded = errors.New("recursion limit exceeded")

	// ErrHashMismatch is returned when fetched bytes do not hash to the
	// requested address.
	ErrHashMismatch = errors.New("record bytes do not match requested hash")

	// ErrPeerUnreachable is returned by fetchers when no peer could serve
	// the record.
	ErrPeerUnreachable = errors.New("no peer could serve the record")

	// ErrTimeout is returned when resolution ran out of time.
	ErrTimeout = errors.New("resolution timed out")

	// ErrCancelled is returned when the caller cancelled resolution.
	ErrCancelled = errors.New("resolution cancelled")
)

// ResolveError annotates a failure with the hash being resolved when it
// occurred.
type ResolveError struct {
	Hash crypto.Hash
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Hash.String(), e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
