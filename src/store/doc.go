// Package store implements content-addressed storage with a hard capacity
// bound.
//
// Records are immutable: the Blake3-256 digest of the serialized bytes is the
// address, so an update is a new record under a new hash. Writes that would
// exceed the capacity evict the least-recently-accessed records first, and
// fail with ErrStorageExhausted when no amount of eviction can make room.
//
// Two implementations are provided: InmemStore, used in tests and for
// ephemeral nodes, and BadgerStore which persists records in a Badger
// database with an LRU read cache in front, mirroring the hot/cold storage
// split of the protocol.
package store
