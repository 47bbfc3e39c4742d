// Package relay implements the UDP message layer.
//
// Every message is a single datagram holding a msgpack-encoded Envelope: a
// topic byte, the sender's public key, an optional correlation token, the
// payload, and a signature. Requests carry a fresh token; the matching
// response echoes it, which is how concurrent exchanges with the same peer
// are told apart.
//
// The Transport runs one read loop feeding a fixed pool of decode workers,
// and a single send loop. Handlers therefore run on the worker pool and must
// not block indefinitely.
package relay
