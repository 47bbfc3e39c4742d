package route

import (
	"sort"
	"sync"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/peers"
	"github.com/sirupsen/logrus"
)

const numBuckets = crypto.HashLength * 8

// PingFunc probes a peer for liveness. It is called outside of any bucket
// lock and may take up to a network round-trip.
type PingFunc func(*peers.Peer) bool

// Table is a routing table mapping routing keys to peers. All methods are safe
// for concurrent use; exclusion is per bucket.
type Table struct {
	local   crypto.Hash
	buckets [numBuckets]*bucket
	logger  *logrus.Entry

	pingMu   sync.RWMutex
	pingFunc PingFunc

	probeWg sync.WaitGroup
}

// NewTable instantiates a routing table centered on the local routing key.
func NewTable(local crypto.Hash, logger *logrus.Entry) *Table {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	t := &Table{
		local:  local,
		logger: logger,
	}
	for i := 0; i < numBuckets; i++ {
		t.buckets[i] = newBucket()
	}
	return t
}

// SetPingFunc wires the liveness probe used by the eviction policy. Without
// it, full buckets keep their existing entries and drop newcomers into the
// replacement cache.
func (t *Table) SetPingFunc(pf PingFunc) {
	t.pingMu.Lock()
	t.pingFunc = pf
	t.pingMu.Unlock()
}

func (t *Table) ping(p *peers.Peer) bool {
	t.pingMu.RLock()
	pf := t.pingFunc
	t.pingMu.RUnlock()
	if pf == nil {
		return true
	}
	return pf(p)
}

// Update inserts or refreshes a peer. If the owning bucket is full, the
// stalest existing entry is probed on a separate goroutine; it is replaced
// only if the probe fails, otherwise the newcomer goes to the replacement
// cache. Update itself never waits on the probe: it is called from message
// workers, which must return to the pool without blocking on a reply.
func (t *Table) Update(peer *peers.Peer) {
	if peer == nil {
		return
	}
	id := peer.RouteID()
	if id.IsZero() || id == t.local {
		return
	}

	b := t.buckets[t.bucketIndex(id)]

	// Phase 1: decide under the bucket lock.
	b.mu.Lock()
	if e := b.find(id); e != nil {
		ent := e.Value.(*entry)
		ent.peer.NetAddr = peer.NetAddr
		ent.peer.Validator = peer.Validator
		ent.peer.Touch()
		ent.state = Fresh
		b.list.MoveToFront(e)
		b.mu.Unlock()
		return
	}
	if b.list.Len() < BucketSize {
		peer.Touch()
		b.list.PushFront(&entry{peer: peer, state: Fresh})
		b.mu.Unlock()
		return
	}

	// Full: capture the current least-recently-seen entry and hand it to a
	// probe goroutine. The probe gets a copy so it never reads fields that a
	// concurrent Update may rewrite.
	lru := b.list.Back().Value.(*entry)
	if lru.state == Probing {
		// a probe for this bucket is already in flight
		b.addReplacement(peer)
		b.mu.Unlock()
		return
	}
	lru.state = Probing
	probed := *lru.peer
	b.mu.Unlock()

	t.probeWg.Add(1)
	go func() {
		defer t.probeWg.Done()
		t.resolveProbe(b, &probed, peer, t.ping(&probed))
	}()
}

// resolveProbe settles a full-bucket insertion once the liveness probe of the
// stalest entry has returned.
func (t *Table) resolveProbe(b *bucket, probed, newcomer *peers.Peer, alive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.find(probed.RouteID())
	if e == nil {
		// The probed entry disappeared meanwhile; just take the free slot if
		// one opened.
		if b.list.Len() < BucketSize {
			newcomer.Touch()
			b.list.PushFront(&entry{peer: newcomer, state: Fresh})
		} else {
			b.addReplacement(newcomer)
		}
		return
	}

	if !alive && e.Value.(*entry).state == Probing {
		e.Value.(*entry).state = Stale
		b.list.Remove(e)
		newcomer.Touch()
		b.list.PushFront(&entry{peer: newcomer, state: Fresh})
		t.logger.WithFields(logrus.Fields{
			"evicted": probed.NetAddr,
			"added":   newcomer.NetAddr,
		}).Debug("replaced stale routing entry")
		return
	}

	// The probed entry responded, or refreshed itself while the probe was in
	// flight: keep it, mark it recently seen, and remember the newcomer for
	// later.
	ent := e.Value.(*entry)
	ent.state = Fresh
	ent.peer.Touch()
	b.list.MoveToFront(e)
	b.addReplacement(newcomer)
}

// waitProbes blocks until in-flight liveness probes have settled.
func (t *Table) waitProbes() {
	t.probeWg.Wait()
}

// Remove deletes the peer with the given routing key, promoting a replacement
// into the freed slot when one is cached.
func (t *Table) Remove(id crypto.Hash) {
	b := t.buckets[t.bucketIndex(id)]

	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.find(id)
	if e == nil {
		return
	}
	b.list.Remove(e)

	if repl, ok := b.popReplacement(); ok {
		repl.Touch()
		b.list.PushFront(&entry{peer: repl, state: Fresh})
	}
}

// PeerByID returns a copy of the peer with the given routing key, or nil.
func (t *Table) PeerByID(id crypto.Hash) *peers.Peer {
	b := t.buckets[t.bucketIndex(id)]

	b.mu.Lock()
	defer b.mu.Unlock()

	if e := b.find(id); e != nil {
		p := *e.Value.(*entry).peer
		return &p
	}
	return nil
}

// candidate pairs a peer with its precomputed distance to a lookup target.
type candidate struct {
	peer     *peers.Peer
	distance crypto.Hash
}

// FindClosest returns up to count peers ordered by ascending XOR distance to
// the target. Ties break on routing key byte order, so repeated calls with no
// intervening update return identical results. Local only, no network I/O.
func (t *Table) FindClosest(target crypto.Hash, count int) []*peers.Peer {
	if count <= 0 {
		return nil
	}

	index := t.bucketIndex(target)

	candidates := t.collect(index, target, nil)
	for i := 1; (index-i >= 0 || index+i < numBuckets) && len(candidates) < count; i++ {
		if index-i >= 0 {
			candidates = t.collect(index-i, target, candidates)
		}
		if index+i < numBuckets {
			candidates = t.collect(index+i, target, candidates)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance == candidates[j].distance {
			return candidates[i].peer.RouteID().Less(candidates[j].peer.RouteID())
		}
		return candidates[i].distance.Less(candidates[j].distance)
	})

	if count > len(candidates) {
		count = len(candidates)
	}

	res := make([]*peers.Peer, count)
	for i := 0; i < count; i++ {
		res[i] = candidates[i].peer
	}
	return res
}

// collect appends copies of the given bucket's peers, with distances to
// target, to acc. Entries are mutated in place under the bucket lock, so read
// paths never hand out the stored pointers.
func (t *Table) collect(index int, target crypto.Hash, acc []candidate) []candidate {
	b := t.buckets[index]

	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.list.Front(); e != nil; e = e.Next() {
		p := *e.Value.(*entry).peer
		acc = append(acc, candidate{peer: &p, distance: p.RouteID().Distance(target)})
	}
	return acc
}

// Peers returns a snapshot of every peer in the table. The snapshot holds
// copies, safe to read while the table keeps changing.
func (t *Table) Peers() []*peers.Peer {
	var res []*peers.Peer
	for _, b := range t.buckets {
		b.mu.Lock()
		for e := b.list.Front(); e != nil; e = e.Next() {
			p := *e.Value.(*entry).peer
			res = append(res, &p)
		}
		b.mu.Unlock()
	}
	return res
}

// Size returns the number of peers in the table.
func (t *Table) Size() int {
	n := 0
	for _, b := range t.buckets {
		b.mu.Lock()
		n += b.list.Len()
		b.mu.Unlock()
	}
	return n
}

// bucketIndex maps a routing key to the bucket whose distance range contains
// it: the index of the first differing bit with the local key.
func (t *Table) bucketIndex(id crypto.Hash) int {
	distance := t.local.Distance(id)
	for i := 0; i < crypto.HashLength; i++ {
		for j := 0; j < 8; j++ {
			if (distance[i]>>uint8(7-j))&0x1 != 0 {
				return i*8 + j
			}
		}
	}
	return numBuckets - 1
}
