package store

import (
	"container/list"
	"sync"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/sirupsen/logrus"
)

// InmemStore keeps records in memory. It implements the same capacity and
// eviction semantics as BadgerStore and is used for tests and ephemeral
// nodes.
type InmemStore struct {
	mu       sync.Mutex
	records  map[crypto.Hash][]byte
	access   *list.List // front = most recently accessed
	elems    map[crypto.Hash]*list.Element
	used     int64
	capacity int64
	logger   *logrus.Entry
}

// NewInmemStore instantiates an InmemStore with the given capacity in bytes.
func NewInmemStore(capacity int64, logger *logrus.Entry) *InmemStore {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &InmemStore{
		records:  make(map[crypto.Hash][]byte),
		access:   list.New(),
		elems:    make(map[crypto.Hash]*list.Element),
		capacity: capacity,
		logger:   logger,
	}
}

// Put implements the Store interface.
func (s *InmemStore) Put(data []byte) (crypto.Hash, error) {
	hash := crypto.Sum256(data)
	size := int64(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[hash]; ok {
		s.access.MoveToFront(s.elems[hash])
		return hash, nil
	}

	if size > s.capacity {
		return crypto.ZeroHash, ErrStorageExhausted
	}

	for s.used+size > s.capacity {
		s.evictOldest()
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.records[hash] = stored
	s.elems[hash] = s.access.PushFront(hash)
	s.used += size

	return hash, nil
}

// evictOldest drops the least-recently-accessed record. Caller holds the lock.
func (s *InmemStore) evictOldest() {
	e := s.access.Back()
	if e == nil {
		return
	}
	hash := e.Value.(crypto.Hash)
	s.used -= int64(len(s.records[hash]))
	delete(s.records, hash)
	delete(s.elems, hash)
	s.access.Remove(e)

	s.logger.WithField("hash", hash.String()).Debug("evicted record")
}

// Get implements the Store interface.
func (s *InmemStore) Get(hash crypto.Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[hash]
	if !ok {
		return nil, ErrNotFound
	}
	s.access.MoveToFront(s.elems[hash])

	res := make([]byte, len(data))
	copy(res, data)
	return res, nil
}

// Has implements the Store interface.
func (s *InmemStore) Has(hash crypto.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[hash]
	return ok
}

// UsedBytes implements the Store interface.
func (s *InmemStore) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// CapacityRemaining implements the Store interface.
func (s *InmemStore) CapacityRemaining() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.used
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
