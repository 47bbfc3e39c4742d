// Package route implements the XOR-distance routing table shared by the peer
// route and the validation route.
//
// Peers are grouped in buckets by the length of the common prefix between
// their routing key and the local node's routing key. Each bucket keeps its
// peers in least-recently-seen order and is guarded by its own lock, so
// concurrent message workers touching unrelated peers do not serialize.
//
// The two routes of a node are two independent Table instances over disjoint
// participant sets; the separation of their traffic happens at the message
// layer, not here.
package route
