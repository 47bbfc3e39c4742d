// Package peers defines the Peer type representing a remote node, and the
// JSON peer-set used to seed the routing tables from disk.
package peers
