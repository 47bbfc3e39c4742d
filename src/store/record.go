package store

import (
	"encoding/binary"
	"fmt"

	"github.com/astreum/astreum-go/src/crypto"
)

// Record is the unit of content-addressed storage: a payload plus the content
// hashes of the records it references. The serialized form is
//
//	[4-byte LE child count | N x 32-byte child hashes | data]
//
// and the record's address is the Blake3-256 digest of that form.
type Record struct {
	Data     []byte
	Children []crypto.Hash
}

// NewRecord builds a record referencing the given children.
func NewRecord(data []byte, children ...crypto.Hash) *Record {
	return &Record{Data: data, Children: children}
}

// Marshal serializes the record.
func (r *Record) Marshal() []byte {
	buf := make([]byte, 4+len(r.Children)*crypto.HashLength+len(r.Data))
	binary.LittleEndian.PutUint32(buf, uint32(len(r.Children)))
	off := 4
	for _, child := range r.Children {
		copy(buf[off:], child.Bytes())
		off += crypto.HashLength
	}
	copy(buf[off:], r.Data)
	return buf
}

// Hash returns the record's content address.
func (r *Record) Hash() crypto.Hash {
	return crypto.Sum256(r.Marshal())
}

// UnmarshalRecord parses serialized record bytes.
func UnmarshalRecord(buf []byte) (*Record, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("record too short: %d bytes", len(buf))
	}

	count := binary.LittleEndian.Uint32(buf)
	need := 4 + int(count)*crypto.HashLength
	if need < 4 || len(buf) < need {
		return nil, fmt.Errorf("record declares %d children but holds %d bytes", count, len(buf))
	}

	children := make([]crypto.Hash, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		h, _ := crypto.FromBytes(buf[off : off+crypto.HashLength])
		children = append(children, h)
		off += crypto.HashLength
	}

	data := make([]byte, len(buf)-off)
	copy(data, buf[off:])

	return &Record{Data: data, Children: children}, nil
}
