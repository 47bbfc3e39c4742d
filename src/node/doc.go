// Package node implements the Astreum node.
//
// A node ties together the identity key, the routing tables, the UDP message
// layer, the record store, and the object resolver. It answers pings, route
// queries, and object requests from other nodes, and exposes Lookup, Fetch
// and Resolve for its own use of the network.
//
// Nodes always participate in the peer route. Nodes configured as validators
// additionally maintain a validation route, a second table fed exclusively by
// validation-namespaced messages.
package node
