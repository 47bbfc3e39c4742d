package resolver

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/astreum/astreum-go/src/common"
	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/store"
)

// fakeFetcher serves records from a map and counts fetches per hash.
type fakeFetcher struct {
	mu      sync.Mutex
	records map[crypto.Hash][]byte
	fetches map[crypto.Hash]int
	block   bool          // when set, Fetch blocks until the context expires
	gate    chan struct{} // when set, Fetch waits on it before returning
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		records: make(map[crypto.Hash][]byte),
		fetches: make(map[crypto.Hash]int),
	}
}

func (f *fakeFetcher) add(rec *store.Record) crypto.Hash {
	data := rec.Marshal()
	hash := crypto.Sum256(data)
	f.mu.Lock()
	f.records[hash] = data
	f.mu.Unlock()
	return hash
}

func (f *fakeFetcher) Fetch(ctx context.Context, hash crypto.Hash) ([]byte, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	f.fetches[hash]++
	data, ok := f.records[hash]
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if !ok {
		return nil, ErrPeerUnreachable
	}
	return data, nil
}

func (f *fakeFetcher) fetchCount(hash crypto.Hash) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[hash]
}

func newTestResolver(t *testing.T, f Fetcher) (*Resolver, *store.InmemStore) {
	t.Helper()
	s := store.NewInmemStore(1<<20, common.NewTestEntry(t, "store"))
	return NewResolver(s, f, common.NewTestEntry(t, "resolver")), s
}

// buildDiamond wires a three-level graph where both middle records reference
// the same leaf:
//
//	root -> a -> leaf
//	     -> b -> leaf
func buildDiamond(f *fakeFetcher) (root, a, b, leaf crypto.Hash) {
	leaf = f.add(store.NewRecord([]byte("leaf")))
	a = f.add(store.NewRecord([]byte("a"), leaf))
	b = f.add(store.NewRecord([]byte("b"), leaf))
	root = f.add(store.NewRecord([]byte("root"), a, b))
	return
}

func TestResolveGraph(t *testing.T) {
	fetcher := newFakeFetcher()
	root, a, b, leaf := buildDiamond(fetcher)

	r, _ := newTestResolver(t, fetcher)

	graph, err := r.Resolve(context.Background(), root, 3)
	if err != nil {
		t.Fatal(err)
	}

	if graph.Size() != 4 {
		t.Fatalf("expected 4 records, got %d", graph.Size())
	}
	for _, h := range []crypto.Hash{root, a, b, leaf} {
		if graph.Record(h) == nil {
			t.Fatalf("missing record %s", h.String())
		}
	}
	if !bytes.Equal(graph.Record(leaf).Data, []byte("leaf")) {
		t.Fatal("leaf payload mismatch")
	}

	// the shared leaf is reachable through two paths but fetched once
	if n := fetcher.fetchCount(leaf); n != 1 {
		t.Fatalf("leaf fetched %d times, want 1", n)
	}
}

func TestResolveDepthZero(t *testing.T) {
	fetcher := newFakeFetcher()
	root := fetcher.add(store.NewRecord([]byte("root")))

	r, _ := newTestResolver(t, fetcher)

	_, err := r.Resolve(context.Background(), root, 0)
	if !errors.Is(err, ErrRecursionLimitExceeded) {
		t.Fatalf("expected ErrRecursionLimitExceeded, got %v", err)
	}
}

func TestResolveDepthExact(t *testing.T) {
	fetcher := newFakeFetcher()
	leaf := fetcher.add(store.NewRecord([]byte("leaf")))
	root := fetcher.add(store.NewRecord([]byte("root"), leaf))

	r, _ := newTestResolver(t, fetcher)

	// two levels, budget of two
	graph, err := r.Resolve(context.Background(), root, 2)
	if err != nil {
		t.Fatal(err)
	}
	if graph.Size() != 2 {
		t.Fatalf("expected 2 records, got %d", graph.Size())
	}
}

func TestResolveDepthTooShallow(t *testing.T) {
	fetcher := newFakeFetcher()
	root, _, _, _ := buildDiamond(fetcher)

	r, _ := newTestResolver(t, fetcher)

	_, err := r.Resolve(context.Background(), root, 2)
	if !errors.Is(err, ErrRecursionLimitExceeded) {
		t.Fatalf("expected ErrRecursionLimitExceeded, got %v", err)
	}
}

func TestResolveChildlessRoot(t *testing.T) {
	fetcher := newFakeFetcher()
	root := fetcher.add(store.NewRecord([]byte("alone")))

	r, _ := newTestResolver(t, fetcher)

	graph, err := r.Resolve(context.Background(), root, 1)
	if err != nil {
		t.Fatal(err)
	}
	if graph.Size() != 1 {
		t.Fatalf("expected 1 record, got %d", graph.Size())
	}
}

func TestResolveHashMismatch(t *testing.T) {
	fetcher := newFakeFetcher()
	root := crypto.Sum256([]byte("what the caller asked for"))
	fetcher.mu.Lock()
	fetcher.records[root] = store.NewRecord([]byte("something else")).Marshal()
	fetcher.mu.Unlock()

	r, _ := newTestResolver(t, fetcher)

	_, err := r.Resolve(context.Background(), root, 1)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}

	var re *ResolveError
	if !errors.As(err, &re) || re.Hash != root {
		t.Fatalf("error should name the offending hash: %v", err)
	}
}

func TestResolveUnreachable(t *testing.T) {
	fetcher := newFakeFetcher()
	missing := crypto.Sum256([]byte("nobody has this"))

	r, _ := newTestResolver(t, fetcher)

	_, err := r.Resolve(context.Background(), missing, 1)
	if !errors.Is(err, ErrPeerUnreachable) {
		t.Fatalf("expected ErrPeerUnreachable, got %v", err)
	}
}

func TestResolvePrefersStore(t *testing.T) {
	fetcher := newFakeFetcher()
	r, s := newTestResolver(t, fetcher)

	data := store.NewRecord([]byte("local")).Marshal()
	hash, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}

	graph, err := r.Resolve(context.Background(), hash, 1)
	if err != nil {
		t.Fatal(err)
	}
	if graph.Size() != 1 {
		t.Fatalf("expected 1 record, got %d", graph.Size())
	}
	if n := fetcher.fetchCount(hash); n != 0 {
		t.Fatalf("local record fetched %d times, want 0", n)
	}
}

func TestResolveWritesBack(t *testing.T) {
	fetcher := newFakeFetcher()
	root := fetcher.add(store.NewRecord([]byte("cache me")))

	r, s := newTestResolver(t, fetcher)

	if _, err := r.Resolve(context.Background(), root, 1); err != nil {
		t.Fatal(err)
	}
	if !s.Has(root) {
		t.Fatal("fetched record should have been written to the store")
	}
}

func TestResolveTimeout(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.block = true
	missing := crypto.Sum256([]byte("unreachable"))

	r, _ := newTestResolver(t, fetcher)

	timeout := 100 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	_, err := r.Resolve(ctx, missing, 1)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Fatalf("failed %v before the deadline", timeout-elapsed)
	}
	if elapsed > timeout+time.Second {
		t.Fatalf("failed %v after the deadline", elapsed-timeout)
	}
}

func TestResolveStorageExhausted(t *testing.T) {
	fetcher := newFakeFetcher()
	root := fetcher.add(store.NewRecord([]byte("far bigger than the budget")))

	s := store.NewInmemStore(8, common.NewTestEntry(t, "store"))
	r := NewResolver(s, fetcher, common.NewTestEntry(t, "resolver"))

	_, err := r.Resolve(context.Background(), root, 1)
	if !errors.Is(err, store.ErrStorageExhausted) {
		t.Fatalf("expected ErrStorageExhausted, got %v", err)
	}

	var re *ResolveError
	if !errors.As(err, &re) || re.Hash != root {
		t.Fatalf("error should name the offending hash: %v", err)
	}
}

func TestResolveConcurrentDedup(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	root := fetcher.add(store.NewRecord([]byte("wanted twice")))

	r, _ := newTestResolver(t, fetcher)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), root, 1)
			errs <- err
		}()
	}

	// hold the first fetch open long enough for the second call to land on
	// the same in-flight request
	time.Sleep(50 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := fetcher.fetchCount(root); n != 1 {
		t.Fatalf("record fetched %d times, want 1", n)
	}
}
