package memory

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Object store (one named collection of records)
// --------------------------------------------------------------------------

// objectStore holds the encoded records of one store.
// Reads are lock-free, writes are serialized by mu so that the existence check of
// Add and the unique index bookkeeping are atomic with the write itself.
type objectStore struct {
	name    string
	keyPath string
	indexes []engine.IndexSchema
	data    *xsync.MapOf[string, []byte]

	mu     sync.Mutex
	unique map[string]*uniqueIndex // index name -> entries (guarded by mu)
}

// uniqueIndex maps index values to primary keys and back
type uniqueIndex struct {
	keyPath string
	byValue map[string]string
	byKey   map[string]string
}

func newObjectStore(name, keyPath string) *objectStore {
	return &objectStore{
		name:    name,
		keyPath: keyPath,
		data:    xsync.NewMapOf[string, []byte](),
		unique:  map[string]*uniqueIndex{},
	}
}

func (s *objectStore) addIndex(idx engine.IndexSchema) error {
	for _, existing := range s.indexes {
		if existing.Name == idx.Name {
			return fmt.Errorf("%w: %s on store %s", engine.ErrIndexExists, idx.Name, s.name)
		}
	}
	s.indexes = append(s.indexes, idx)
	if idx.Options.Unique {
		s.unique[idx.Name] = &uniqueIndex{
			keyPath: idx.KeyPath,
			byValue: map[string]string{},
			byKey:   map[string]string{},
		}
	}
	return nil
}

// checkUnique returns ErrConstraint if rec would collide with another record in a unique index.
// s.mu must be held.
func (s *objectStore) checkUnique(key string, rec engine.Record) error {
	for name, idx := range s.unique {
		value, ok := engine.IndexValue(rec, idx.keyPath)
		if !ok {
			continue
		}
		if owner, taken := idx.byValue[value]; taken && owner != key {
			return fmt.Errorf("%w: index %s already holds this value for key %s", engine.ErrConstraint, name, owner)
		}
	}
	return nil
}

// indexRecord replaces the unique index entries of key with the ones of rec (nil rec removes them).
// s.mu must be held.
func (s *objectStore) indexRecord(key string, rec engine.Record) {
	for _, idx := range s.unique {
		if old, ok := idx.byKey[key]; ok {
			delete(idx.byValue, old)
			delete(idx.byKey, key)
		}
		if rec == nil {
			continue
		}
		if value, ok := engine.IndexValue(rec, idx.keyPath); ok {
			idx.byValue[value] = key
			idx.byKey[key] = value
		}
	}
}

// write stores an encoded record. If mustNotExist is set, the write fails with ErrKeyExists for present keys.
func (s *objectStore) write(key string, rec engine.Record, encoded []byte, mustNotExist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mustNotExist {
		if _, ok := s.data.Load(key); ok {
			return fmt.Errorf("%w: %s", engine.ErrKeyExists, key)
		}
	}
	if err := s.checkUnique(key, rec); err != nil {
		return err
	}

	s.data.Store(key, encoded)
	s.indexRecord(key, rec)
	return nil
}

func (s *objectStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Delete(key)
	s.indexRecord(key, nil)
}

func (s *objectStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Clear()
	for _, idx := range s.unique {
		idx.byValue = map[string]string{}
		idx.byKey = map[string]string{}
	}
}
