package machine

import (
	"bytes"
	"testing"

	"github.com/astreum/astreum-go/src/common"
	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/resolver"
)

func testGraph(seed string) *resolver.Graph {
	return &resolver.Graph{Root: crypto.Sum256([]byte(seed))}
}

func TestInmemMachineApply(t *testing.T) {
	m := NewInmemMachine(common.NewTestEntry(t, "machine"))

	initial := m.StateHash()

	h1, err := m.Apply(testGraph("first"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(h1, initial) {
		t.Fatal("state hash should change on apply")
	}
	if !bytes.Equal(m.StateHash(), h1) {
		t.Fatal("StateHash should return the latest state")
	}

	h2, err := m.Apply(testGraph("second"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(h2, h1) {
		t.Fatal("state hash should change on every apply")
	}
	if m.Applied() != 2 {
		t.Fatalf("expected 2 applied graphs, got %d", m.Applied())
	}
}

func TestInmemMachineDeterministic(t *testing.T) {
	a := NewInmemMachine(common.NewTestEntry(t, "machine-a"))
	b := NewInmemMachine(common.NewTestEntry(t, "machine-b"))

	for _, seed := range []string{"one", "two", "three"} {
		if _, err := a.Apply(testGraph(seed)); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Apply(testGraph(seed)); err != nil {
			t.Fatal(err)
		}
	}

	if !bytes.Equal(a.StateHash(), b.StateHash()) {
		t.Fatal("identical apply sequences should converge on one state hash")
	}
}
