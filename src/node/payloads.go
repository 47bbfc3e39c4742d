package node

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Message payload bodies. Envelopes carry one of these, msgpack-encoded, in
// their Payload field.

// PingPayload announces route participation. NetAddr is the address the
// sender wants to be reached on, which may differ from the datagram's source
// when the sender advertises a public address.
type PingPayload struct {
	NetAddr   string
	Validator bool
}

// RouteRequestPayload asks for the peers closest to Target.
type RouteRequestPayload struct {
	Target []byte
}

// PeerEntry describes one peer in a route response.
type PeerEntry struct {
	NetAddr   string
	PubKeyHex string
	Validator bool
}

// RoutePayload answers a route request.
type RoutePayload struct {
	Peers []PeerEntry
}

// ObjectRequestPayload asks for the record stored under Hash.
type ObjectRequestPayload struct {
	Hash []byte
}

// ObjectResponsePayload carries record bytes.
type ObjectResponsePayload struct {
	Data []byte
}

func marshalPayload(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	mh := new(codec.MsgpackHandle)
	enc := codec.NewEncoder(b, mh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func unmarshalPayload(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	mh := new(codec.MsgpackHandle)
	dec := codec.NewDecoder(b, mh)

	return dec.Decode(v)
}
