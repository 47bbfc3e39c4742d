package common

import (
	"bytes"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	decoded, err := DecodeFromString(EncodeToString(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatalf("got %X, want %X", decoded, raw)
	}
}

func TestDecodeFromStringTooShort(t *testing.T) {
	for _, s := range []string{"", "0", "X"} {
		if _, err := DecodeFromString(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}
