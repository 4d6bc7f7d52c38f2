package memory

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "STKMEM\x00\x00" // File format identifier
	formatVersion = 1                // Snapshot format version
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists all databases to the writer.
//
// Format (little endian, strings are uint32 length + bytes):
//
//	magic | format version (uint8) | codec name | db count (uint64)
//	  per db:    name | version (uint64) | store count (uint32)
//	  per store: name | key path | index count (uint32)
//	  per index: name | key path | unique (uint8)
//	  per store: record count (uint64), per record: key | value
//
// Thread-safety: Save may run concurrently with reads and writes. Each store is
// copied under its write lock, so every store is consistent on its own.
func (m *memoryImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	dbs := m.snapshotDatabases()

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(formatVersion)); err != nil {
		return err
	}
	if err := writeString(bw, m.codec.Name()); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(dbs))); err != nil {
		return err
	}

	for _, db := range dbs {
		if err := writeString(bw, db.name); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, db.version); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(db.stores))); err != nil {
			return err
		}
		for _, s := range db.stores {
			if err := writeStore(bw, s); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

type savedDatabase struct {
	name    string
	version uint64
	stores  []savedStore
}

type savedStore struct {
	name    string
	keyPath string
	indexes []engine.IndexSchema
	keys    []string
	values  [][]byte
}

// snapshotDatabases copies the state of all databases, sorted by name
func (m *memoryImpl) snapshotDatabases() []savedDatabase {
	var dbs []savedDatabase
	m.dbs.Range(func(name string, db *database) bool {
		db.mu.Lock()
		version := db.version
		db.mu.Unlock()
		if version == 0 || db.deleted.Load() {
			return true
		}

		saved := savedDatabase{name: name, version: version}
		for _, storeName := range db.storeNames() {
			s, ok := db.stores.Load(storeName)
			if !ok {
				continue
			}
			saved.stores = append(saved.stores, s.snapshot())
		}
		dbs = append(dbs, saved)
		return true
	})
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].name < dbs[j].name })
	return dbs
}

func (s *objectStore) snapshot() savedStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := savedStore{
		name:    s.name,
		keyPath: s.keyPath,
		indexes: append([]engine.IndexSchema(nil), s.indexes...),
	}
	s.data.Range(func(key string, value []byte) bool {
		saved.keys = append(saved.keys, key)
		return true
	})
	sort.Strings(saved.keys)
	for _, key := range saved.keys {
		value, _ := s.data.Load(key)
		valueCopy := make([]byte, len(value))
		copy(valueCopy, value)
		saved.values = append(saved.values, valueCopy)
	}
	return saved
}

func writeStore(w io.Writer, s savedStore) error {
	if err := writeString(w, s.name); err != nil {
		return err
	}
	if err := writeString(w, s.keyPath); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.indexes))); err != nil {
		return err
	}
	for _, idx := range s.indexes {
		if err := writeString(w, idx.Name); err != nil {
			return err
		}
		if err := writeString(w, idx.KeyPath); err != nil {
			return err
		}
		var unique uint8
		if idx.Options.Unique {
			unique = 1
		}
		if err := binary.Write(w, binary.LittleEndian, unique); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s.keys))); err != nil {
		return err
	}
	for i, key := range s.keys {
		if err := writeString(w, key); err != nil {
			return err
		}
		if err := writeBytes(w, s.values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Load restores all databases from the reader, replacing the current state.
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (m *memoryImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != formatVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, formatVersion)
	}

	codecName, err := readString(br)
	if err != nil {
		return err
	}
	if codecName != m.codec.Name() {
		return fmt.Errorf("snapshot was written with codec %s, engine uses %s", codecName, m.codec.Name())
	}

	var dbCount uint64
	if err := binary.Read(br, binary.LittleEndian, &dbCount); err != nil {
		return err
	}

	dbs := xsync.NewMapOf[string, *database]()
	for i := uint64(0); i < dbCount; i++ {
		db, err := m.readDatabase(br)
		if err != nil {
			return err
		}
		dbs.Store(db.name, db)
	}

	m.dbs = dbs
	return nil
}

func (m *memoryImpl) readDatabase(r io.Reader) (*database, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	db := newDatabase(name)
	if err := binary.Read(r, binary.LittleEndian, &db.version); err != nil {
		return nil, err
	}

	var storeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &storeCount); err != nil {
		return nil, err
	}
	for i := uint32(0); i < storeCount; i++ {
		s, err := m.readStore(r)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", name, err)
		}
		db.stores.Store(s.name, s)
	}
	return db, nil
}

func (m *memoryImpl) readStore(r io.Reader) (*objectStore, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	keyPath, err := readString(r)
	if err != nil {
		return nil, err
	}
	s := newObjectStore(name, keyPath)

	var indexCount uint32
	if err := binary.Read(r, binary.LittleEndian, &indexCount); err != nil {
		return nil, err
	}
	for i := uint32(0); i < indexCount; i++ {
		idxName, err := readString(r)
		if err != nil {
			return nil, err
		}
		idxKeyPath, err := readString(r)
		if err != nil {
			return nil, err
		}
		var unique uint8
		if err := binary.Read(r, binary.LittleEndian, &unique); err != nil {
			return nil, err
		}
		if err := s.addIndex(engine.IndexSchema{
			Name:    idxName,
			KeyPath: idxKeyPath,
			Options: engine.IndexOptions{Unique: unique == 1},
		}); err != nil {
			return nil, err
		}
	}

	var recordCount uint64
	if err := binary.Read(r, binary.LittleEndian, &recordCount); err != nil {
		return nil, err
	}
	for i := uint64(0); i < recordCount; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		value, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		s.data.Store(key, value)

		// rebuild unique indexes from the decoded records
		if len(s.unique) > 0 {
			rec, err := m.codec.Decode(value)
			if err != nil {
				return nil, fmt.Errorf("store %s: decode %s: %w", name, key, err)
			}
			s.indexRecord(key, rec)
		}
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
