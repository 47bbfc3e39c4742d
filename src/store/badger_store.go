package store

import (
	"container/list"
	"sync"

	"github.com/astreum/astreum-go/src/crypto"
	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// BadgerStore persists records in a Badger database with an in-memory LRU
// cache in front of the reads. The capacity accounting and the
// least-recently-accessed eviction order are kept in memory and rebuilt from
// the database on open, so the access order only survives a restart as the
// iteration order of the surviving records.
type BadgerStore struct {
	db  *badger.DB
	hot *lru.Cache[crypto.Hash, []byte]

	mu       sync.Mutex
	sizes    map[crypto.Hash]int64
	access   *list.List // front = most recently accessed
	elems    map[crypto.Hash]*list.Element
	used     int64
	capacity int64

	logger *logrus.Entry
}

// NewBadgerStore opens (or creates) a Badger database at path. cacheSize is
// the number of records held in the hot cache.
func NewBadgerStore(path string, capacity int64, cacheSize int, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	hot, err := lru.New[crypto.Hash, []byte](cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BadgerStore{
		db:       db,
		hot:      hot,
		sizes:    make(map[crypto.Hash]int64),
		access:   list.New(),
		elems:    make(map[crypto.Hash]*list.Element),
		capacity: capacity,
		logger:   logger,
	}

	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"path":    path,
		"records": len(s.sizes),
		"used":    s.used,
	}).Debug("opened record store")

	return s, nil
}

// loadIndex rebuilds the size and access bookkeeping from the database.
func (s *BadgerStore) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			hash, err := crypto.FromBytes(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			size := int64(item.ValueSize())
			s.sizes[hash] = size
			s.elems[hash] = s.access.PushFront(hash)
			s.used += size
		}
		return nil
	})
}

// Put implements the Store interface.
func (s *BadgerStore) Put(data []byte) (crypto.Hash, error) {
	hash := crypto.Sum256(data)
	size := int64(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sizes[hash]; ok {
		s.access.MoveToFront(s.elems[hash])
		return hash, nil
	}

	if size > s.capacity {
		return crypto.ZeroHash, ErrStorageExhausted
	}

	for s.used+size > s.capacity {
		if err := s.evictOldest(); err != nil {
			return crypto.ZeroHash, err
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(hash.Bytes(), data)
	})
	if err != nil {
		return crypto.ZeroHash, err
	}

	s.sizes[hash] = size
	s.elems[hash] = s.access.PushFront(hash)
	s.used += size

	stored := make([]byte, len(data))
	copy(stored, data)
	s.hot.Add(hash, stored)

	return hash, nil
}

// evictOldest drops the least-recently-accessed record. Caller holds the lock.
func (s *BadgerStore) evictOldest() error {
	e := s.access.Back()
	if e == nil {
		return ErrStorageExhausted
	}
	hash := e.Value.(crypto.Hash)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(hash.Bytes())
	})
	if err != nil {
		return err
	}

	s.used -= s.sizes[hash]
	delete(s.sizes, hash)
	delete(s.elems, hash)
	s.access.Remove(e)
	s.hot.Remove(hash)

	s.logger.WithField("hash", hash.String()).Debug("evicted record")
	return nil
}

// Get implements the Store interface.
func (s *BadgerStore) Get(hash crypto.Hash) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.elems[hash]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	s.access.MoveToFront(e)
	s.mu.Unlock()

	if data, ok := s.hot.Get(hash); ok {
		res := make([]byte, len(data))
		copy(res, data)
		return res, nil
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hash.Bytes())
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.hot.Add(hash, data)

	res := make([]byte, len(data))
	copy(res, data)
	return res, nil
}

// Has implements the Store interface.
func (s *BadgerStore) Has(hash crypto.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sizes[hash]
	return ok
}

// UsedBytes implements the Store interface.
func (s *BadgerStore) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// CapacityRemaining implements the Store interface.
func (s *BadgerStore) CapacityRemaining() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.used
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
