package store

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"

	"github.com/astreum/astreum-go/src/common"
	"github.com/astreum/astreum-go/src/crypto"
)

func TestRecordRoundTrip(t *testing.T) {
	childA := crypto.Sum256([]byte("child-a"))
	childB := crypto.Sum256([]byte("child-b"))

	rec := NewRecord([]byte("payload"), childA, childB)

	parsed, err := UnmarshalRecord(rec.Marshal())
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(parsed.Data, rec.Data) {
		t.Fatalf("data mismatch: got %q", parsed.Data)
	}
	if len(parsed.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(parsed.Children))
	}
	if parsed.Children[0] != childA || parsed.Children[1] != childB {
		t.Fatal("children mismatch")
	}
	if parsed.Hash() != rec.Hash() {
		t.Fatal("hash changed across round trip")
	}
}

func TestRecordTruncated(t *testing.T) {
	rec := NewRecord([]byte("payload"), crypto.Sum256([]byte("child")))
	buf := rec.Marshal()

	// declared child count exceeds the remaining bytes
	if _, err := UnmarshalRecord(buf[:10]); err == nil {
		t.Fatal("expected error for truncated record")
	}
	if _, err := UnmarshalRecord(nil); err == nil {
		t.Fatal("expected error for empty record")
	}
}

// storeFactory lets the behavioral tests run against both implementations.
type storeFactory func(t *testing.T, capacity int64) Store

func inmemFactory(t *testing.T, capacity int64) Store {
	return NewInmemStore(capacity, common.NewTestEntry(t, "store"))
}

func badgerFactory(t *testing.T, capacity int64) Store {
	dir, err := ioutil.TempDir("", "badger_store_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := NewBadgerStore(dir, capacity, 16, common.NewTestEntry(t, "store"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"inmem":  inmemFactory,
		"badger": badgerFactory,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 1024)

			data := []byte("some record bytes")
			hash, err := s.Put(data)
			if err != nil {
				t.Fatal(err)
			}
			if hash != crypto.Sum256(data) {
				t.Fatal("returned hash is not the content hash")
			}

			got, err := s.Get(hash)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("got %q, want %q", got, data)
			}

			if _, err := s.Get(crypto.Sum256([]byte("absent"))); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStorePutIdempotent(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 1024)

			data := []byte("same bytes twice")

			h1, err := s.Put(data)
			if err != nil {
				t.Fatal(err)
			}
			used := s.UsedBytes()

			h2, err := s.Put(data)
			if err != nil {
				t.Fatal(err)
			}

			if h1 != h2 {
				t.Fatal("hashes differ for identical bytes")
			}
			if s.UsedBytes() != used {
				t.Fatalf("usage changed on duplicate put: %d -> %d", used, s.UsedBytes())
			}
		})
	}
}

func TestStoreEviction(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			// room for exactly two 100-byte records
			s := factory(t, 200)

			recA := bytes.Repeat([]byte{0xaa}, 100)
			recB := bytes.Repeat([]byte{0xbb}, 100)
			recC := bytes.Repeat([]byte{0xcc}, 100)

			hashA, err := s.Put(recA)
			if err != nil {
				t.Fatal(err)
			}
			hashB, err := s.Put(recB)
			if err != nil {
				t.Fatal(err)
			}

			// touch A so B becomes the eviction candidate
			if _, err := s.Get(hashA); err != nil {
				t.Fatal(err)
			}

			hashC, err := s.Put(recC)
			if err != nil {
				t.Fatal(err)
			}

			if s.Has(hashB) {
				t.Fatal("least-recently-accessed record should have been evicted")
			}
			if !s.Has(hashA) || !s.Has(hashC) {
				t.Fatal("recently accessed records should have survived")
			}
			if s.UsedBytes() > 200 {
				t.Fatalf("usage %d exceeds capacity", s.UsedBytes())
			}
		})
	}
}

func TestStoreExhausted(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 100)

			small := []byte("fits fine")
			hash, err := s.Put(small)
			if err != nil {
				t.Fatal(err)
			}
			used := s.UsedBytes()

			// larger than the whole capacity: no eviction can make room
			big := bytes.Repeat([]byte{0x01}, 101)
			if _, err := s.Put(big); err != ErrStorageExhausted {
				t.Fatalf("expected ErrStorageExhausted, got %v", err)
			}

			// prior state untouched
			if !s.Has(hash) {
				t.Fatal("failed put should not disturb existing records")
			}
			if s.UsedBytes() != used {
				t.Fatalf("usage changed on failed put: %d -> %d", used, s.UsedBytes())
			}
		})
	}
}

func TestBadgerStoreReload(t *testing.T) {
	dir, err := ioutil.TempDir("", "badger_store_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := NewBadgerStore(dir, 1024, 16, common.NewTestEntry(t, "store"))
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("survives a restart")
	hash, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := NewBadgerStore(dir, 1024, 16, common.NewTestEntry(t, "store"))
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}
