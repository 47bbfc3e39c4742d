package relay

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"
)

// Topic identifies the kind of message an Envelope carries. Topics with the
// high bit set belong to the validation route; masking the bit out yields the
// corresponding peer-route topic, so both routes share one handler table.
type Topic uint8

const (
	TopicPing Topic = 0x01 + iota
	TopicPong
	TopicRouteRequest
	TopicRoute
	TopicObjectRequest
	TopicObjectResponse
)

// ValidationBit marks a topic as belonging to the validation route.
const ValidationBit Topic = 0x80

// Validation returns the validation-route variant of the topic.
func (t Topic) Validation() Topic {
	return t | ValidationBit
}

// Base strips the validation bit.
func (t Topic) Base() Topic {
	return t &^ ValidationBit
}

// IsValidation reports whether the topic belongs to the validation route.
func (t Topic) IsValidation() bool {
	return t&ValidationBit != 0
}

func (t Topic) String() string {
	s := ""
	switch t.Base() {
	case TopicPing:
		s = "ping"
	case TopicPong:
		s = "pong"
	case TopicRouteRequest:
		s = "route-request"
	case TopicRoute:
		s = "route"
	case TopicObjectRequest:
		s = "object-request"
	case TopicObjectResponse:
		s = "object-response"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint8(t))
	}
	if t.IsValidation() {
		return "validation-" + s
	}
	return s
}

// Envelope is the unit of exchange on the wire.
type Envelope struct {
	Topic   Topic
	Sender  []byte // sender's uncompressed public key
	Token   []byte // correlation token; empty for unsolicited messages
	Payload []byte
	Sig     []byte // signature over SigningMaterial
}

// Marshal - msgpack encoding of Envelope
func (e *Envelope) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	mh := new(codec.MsgpackHandle)
	enc := codec.NewEncoder(b, mh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *Envelope) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	mh := new(codec.MsgpackHandle)
	dec := codec.NewDecoder(b, mh)

	if err := dec.Decode(e); err != nil {
		return err
	}

	return nil
}

// SigningMaterial returns the bytes covered by the envelope signature: every
// field except the signature itself, in a fixed order.
func (e *Envelope) SigningMaterial() []byte {
	buf := make([]byte, 0, 1+len(e.Sender)+len(e.Token)+len(e.Payload))
	buf = append(buf, byte(e.Topic))
	buf = append(buf, e.Sender...)
	buf = append(buf, e.Token...)
	buf = append(buf, e.Payload...)
	return buf
}
