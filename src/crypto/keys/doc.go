// Package keys implements the public key cryptography used throughout the
// Astreum node.
//
// A node owns a cryptographic key-pair that it uses to sign and verify
// route-participation messages. The private key is secret but the public key
// is shared with other nodes, which use it both to verify signatures and as
// the node's routing identity.
//
// We use elliptic curve cryptography (ECDSA) with the secp256k1 curve because
// it is also used by Bitcoin and Ethereum, which means that Bitcoin and
// Ethereum keys can be used to operate a node.
package keys
