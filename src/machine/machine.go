// Package machine defines the interface between the node and the virtual
// machine that consumes resolved objects.
//
// The node hands the machine fully materialized object graphs; what the
// machine does with them is its own business. InmemMachine is a minimal
// implementation used in tests and by nodes that only relay and store.
package machine

import (
	"github.com/astreum/astreum-go/src/resolver"
)

// Machine consumes resolved object graphs.
type Machine interface {
	// Apply feeds a resolved object graph to the machine and returns the
	// resulting state hash.
	Apply(graph *resolver.Graph) ([]byte, error)

	// StateHash returns the machine's current state hash.
	StateHash() []byte
}
