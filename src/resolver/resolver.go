package resolver

import (
	"context"
	"errors"
	"sync"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/astreum/astreum-go/src/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// maxConcurrentFetches bounds the number of records fetched in parallel
// within one wave.
const maxConcurrentFetches = 8

// Fetcher retrieves record bytes that are not held locally.
type Fetcher interface {
	Fetch(ctx context.Context, hash crypto.Hash) ([]byte, error)
}

// Graph is a fully materialized object graph.
type Graph struct {
	Root    crypto.Hash
	Records map[crypto.Hash]*store.Record
}

// Record returns the record under the given hash, or nil.
func (g *Graph) Record(hash crypto.Hash) *store.Record {
	return g.Records[hash]
}

// Size returns the number of distinct records in the graph.
func (g *Graph) Size() int {
	return len(g.Records)
}

// Resolver walks object graphs, reading from the local store first and
// falling back to the fetcher. Fetched records are verified and written back
// to the store. Concurrent resolutions of overlapping graphs share their
// fetches.
type Resolver struct {
	store   store.Store
	fetcher Fetcher
	flight  singleflight.Group
	logger  *logrus.Entry
}

// NewResolver instantiates a Resolver.
func NewResolver(s store.Store, f Fetcher, logger *logrus.Entry) *Resolver {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Resolver{
		store:   s,
		fetcher: f,
		logger:  logger,
	}
}

// Resolve materializes the graph rooted at root, walking at most depth
// levels. A depth of 1 admits a childless root only; a budget smaller than
// the graph's depth fails with ErrRecursionLimitExceeded.
func (r *Resolver) Resolve(ctx context.Context, root crypto.Hash, depth int) (*Graph, error) {
	if depth <= 0 {
		return nil, &ResolveError{Hash: root, Err: ErrRecursionLimitExceeded}
	}

	graph := &Graph{
		Root:    root,
		Records: make(map[crypto.Hash]*store.Record),
	}

	frontier := []crypto.Hash{root}
	remaining := depth

	for len(frontier) > 0 {
		if remaining == 0 {
			return nil, &ResolveError{Hash: frontier[0], Err: ErrRecursionLimitExceeded}
		}
		remaining--

		var (
			mu   sync.Mutex
			next []crypto.Hash
			seen = make(map[crypto.Hash]bool)
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentFetches)

		for _, hash := range frontier {
			hash := hash
			g.Go(func() error {
				rec, err := r.fetchRecord(gctx, hash)
				if err != nil {
					return err
				}

				mu.Lock()
				graph.Records[hash] = rec
				for _, child := range rec.Children {
					if _, ok := graph.Records[child]; ok {
						continue
					}
					if !seen[child] {
						seen[child] = true
						next = append(next, child)
					}
				}
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		frontier = next
	}

	r.logger.WithFields(logrus.Fields{
		"root":    root.String(),
		"records": graph.Size(),
	}).Debug("resolved object graph")

	return graph, nil
}

// fetchRecord returns the parsed record for hash, consulting the store first.
// Concurrent calls for the same hash share one fetch.
func (r *Resolver) fetchRecord(ctx context.Context, hash crypto.Hash) (*store.Record, error) {
	v, err, _ := r.flight.Do(hash.String(), func() (interface{}, error) {
		data, err := r.store.Get(hash)
		if err == nil {
			return data, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}

		data, err = r.fetcher.Fetch(ctx, hash)
		if err != nil {
			return nil, mapFetchError(err)
		}
		if crypto.Sum256(data) != hash {
			return nil, ErrHashMismatch
		}

		// a record larger than the whole budget can never be stored, even
		// after maximal eviction; fail before touching the store
		if int64(len(data)) > r.store.UsedBytes()+r.store.CapacityRemaining() {
			return nil, store.ErrStorageExhausted
		}
		if _, err := r.store.Put(data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, &ResolveError{Hash: hash, Err: err}
	}

	rec, err := store.UnmarshalRecord(v.([]byte))
	if err != nil {
		return nil, &ResolveError{Hash: hash, Err: err}
	}
	return rec, nil
}

func mapFetchError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return err
	}
}
