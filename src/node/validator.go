package node

import (
	"crypto/ecdsa"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/crypto/keys"
)

// Validator holds the node's identity: the private key, the derived routing
// key, and the friendly name. The name is misleading for nodes that do not
// join the validation route, but every node has exactly one of these.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id       uint32
	pubBytes []byte
	pubHex   string
}

// NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	return &Validator{
		Key:     key,
		Moniker: moniker,
	}
}

// ID returns a compact ID for the validator, used to tag log lines
func (v *Validator) ID() uint32 {
	if v.id == 0 {
		v.id = keys.PublicKeyID(v.PublicKeyBytes())
	}
	return v.id
}

// RouteID returns the validator's routing key: the digest of its public key
// bytes.
func (v *Validator) RouteID() crypto.Hash {
	return crypto.Sum256(v.PublicKeyBytes())
}

// PublicKeyBytes returns the validator's public key as a byte array
func (v *Validator) PublicKeyBytes() []byte {
	if len(v.pubBytes) == 0 {
		v.pubBytes = keys.FromPublicKey(&v.Key.PublicKey)
	}
	return v.pubBytes
}

// PublicKeyHex returns the validator's public key as a hex string
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}

// Sign signs arbitrary bytes with the validator's key.
func (v *Validator) Sign(data []byte) ([]byte, error) {
	return keys.SignToBytes(v.Key, data)
}
