package route

import (
	"container/list"
	"sync"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/peers"
)

// BucketSize is the maximum number of peers per bucket.
const BucketSize = 20

const replacementCap = 32

// Liveness is the probe state of a routing-table entry.
type Liveness int

const (
	// Fresh entries have recently been seen and are assumed reachable.
	Fresh Liveness = iota
	// Probing entries are being liveness-checked because their bucket is
	// under capacity pressure.
	Probing
	// Stale entries failed a liveness probe and are eligible for eviction.
	Stale
)

func (l Liveness) String() string {
	switch l {
	case Fresh:
		return "Fresh"
	case Probing:
		return "Probing"
	case Stale:
		return "Stale"
	}
	return "Unknown"
}

// entry wraps a peer with its liveness state. State transitions only happen
// under the owning bucket's lock.
type entry struct {
	peer  *peers.Peer
	state Liveness
}

// bucket is a fixed-capacity group of entries sharing a distance range from
// the local identity. The list front holds the most recently seen entry.
type bucket struct {
	mu   sync.Mutex
	list *list.List

	// Replacement cache: recently seen peers that didn't fit. Promoted into
	// the bucket when a slot opens.
	repl []*peers.Peer
}

func newBucket() *bucket {
	return &bucket{list: list.New()}
}

// find returns the list element holding the entry with the given routing key,
// or nil. Caller holds the bucket lock.
func (b *bucket) find(id crypto.Hash) *list.Element {
	for e := b.list.Front(); e != nil; e = e.Next() {
		if e.Value.(*entry).peer.RouteID() == id {
			return e
		}
	}
	return nil
}

// addReplacement appends to the replacement cache, bounded, without
// duplicates. Caller holds the bucket lock.
func (b *bucket) addReplacement(p *peers.Peer) {
	for i := range b.repl {
		if b.repl[i].RouteID() == p.RouteID() {
			return
		}
	}
	if len(b.repl) >= replacementCap {
		copy(b.repl, b.repl[1:])
		b.repl = b.repl[:replacementCap-1]
	}
	b.repl = append(b.repl, p)
}

// popReplacement returns the most recent replacement if any. Caller holds the
// bucket lock.
func (b *bucket) popReplacement() (*peers.Peer, bool) {
	n := len(b.repl)
	if n == 0 {
		return nil, false
	}
	p := b.repl[n-1]
	b.repl = b.repl[:n-1]
	return p, true
}
