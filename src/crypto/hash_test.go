package crypto

import "testing"

func TestHashRoundTrip(t *testing.T) {
	h := Sum256([]byte("some bytes"))

	parsed, err := FromHex(h.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != h {
		t.Fatal("hash changed across hex round trip")
	}

	if _, err := FromHex("abcd"); err == nil {
		t.Fatal("expected error for short hex")
	}
}

func TestDistance(t *testing.T) {
	a := Sum256([]byte("a"))
	b := Sum256([]byte("b"))

	if !a.Distance(a).IsZero() {
		t.Fatal("distance to self should be zero")
	}
	if a.Distance(b) != b.Distance(a) {
		t.Fatal("distance should be symmetric")
	}
	if a.Distance(b).IsZero() {
		t.Fatal("distance between distinct hashes should be non-zero")
	}
}

func TestLess(t *testing.T) {
	zero := ZeroHash
	one := Hash{}
	one[HashLength-1] = 1

	if !zero.Less(one) {
		t.Fatal("zero should sort before one")
	}
	if one.Less(zero) {
		t.Fatal("one should not sort before zero")
	}
	if zero.Less(zero) {
		t.Fatal("Less should be strict")
	}
}
