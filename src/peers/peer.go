package peers

import (
	"crypto/ecdsa"
	"time"

	"github.com/astreum/astreum-go/src/common"
	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/crypto/keys"
)

// Peer is a remote node as seen by the routing tables. The public key doubles
// as the peer's identity; the RouteID derived from it places the peer in a
// bucket.
type Peer struct {
	NetAddr   string `json:"NetAddr"`
	PubKeyHex string `json:"PubKeyHex"`

	// Validator records whether the peer advertised validation-route
	// participation in its last ping.
	Validator bool `json:"Validator,omitempty"`

	// LastSeen is refreshed on any received message from this peer.
	LastSeen time.Time `json:"-"`
}

// NewPeer instantiates a Peer from the hex form of its public key and its
// network address.
func NewPeer(pubKeyHex, netAddr string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		LastSeen:  time.Now(),
	}
}

// PubKeyBytes returns the uncompressed public key bytes.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(p.PubKeyHex)
}

// PubKey parses the peer's public key. It returns nil if the key bytes do not
// describe a point on the curve.
func (p *Peer) PubKey() *ecdsa.PublicKey {
	raw, err := p.PubKeyBytes()
	if err != nil {
		return nil
	}
	return keys.ToPublicKey(raw)
}

// ID returns a compact representation of the peer's public key, used to tag
// log lines. Peers are shared between workers, so ids are derived on demand
// rather than cached on the struct.
func (p *Peer) ID() uint32 {
	raw, err := p.PubKeyBytes()
	if err != nil {
		return 0
	}
	return common.Hash32(raw)
}

// RouteID returns the peer's routing key: the Blake3-256 digest of its public
// key bytes. Bucket membership is a pure function of the XOR distance between
// RouteIDs.
func (p *Peer) RouteID() crypto.Hash {
	raw, err := p.PubKeyBytes()
	if err != nil {
		return crypto.ZeroHash
	}
	return crypto.Sum256(raw)
}

// Touch refreshes the peer's last-seen timestamp.
func (p *Peer) Touch() {
	p.LastSeen = time.Now()
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, netAddr string) []*Peer {
	otherPeers := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		if p.NetAddr != netAddr {
			otherPeers = append(otherPeers, p)
		}
	}
	return otherPeers
}
