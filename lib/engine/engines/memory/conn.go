package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

type memoryConn struct {
	id      string
	engine  *memoryImpl
	db      *database
	version uint64
	closed  atomic.Bool
}

func newConn(m *memoryImpl, db *database, version uint64) *memoryConn {
	return &memoryConn{
		id:      uuid.NewString(),
		engine:  m,
		db:      db,
		version: version,
	}
}

func (c *memoryConn) ID() string           { return c.id }
func (c *memoryConn) Name() string         { return c.db.name }
func (c *memoryConn) Version() uint64      { return c.version }
func (c *memoryConn) StoreNames() []string { return c.db.storeNames() }

// usable returns ErrClosed if the connection, its database or the engine is gone
func (c *memoryConn) usable() error {
	if c.closed.Load() || c.db.deleted.Load() || c.engine.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

func (c *memoryConn) Store(name string, mode engine.Mode) (engine.Scope, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	s, ok := c.db.stores.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s in database %s", engine.ErrStoreNotFound, name, c.db.name)
	}
	return &memoryScope{conn: c, store: s, mode: mode}, nil
}

func (c *memoryConn) Close() error {
	c.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Scope
// --------------------------------------------------------------------------

type memoryScope struct {
	conn  *memoryConn
	store *objectStore
	mode  engine.Mode
}

func (s *memoryScope) Mode() engine.Mode { return s.mode }
func (s *memoryScope) KeyPath() string   { return s.store.keyPath }

func (s *memoryScope) check(ctx context.Context, write bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.usable(); err != nil {
		return err
	}
	if write && s.mode != engine.ModeReadWrite {
		return engine.ErrReadOnly
	}
	return nil
}

func (s *memoryScope) Get(ctx context.Context, key string) (engine.Record, bool, error) {
	if err := s.check(ctx, false); err != nil {
		return nil, false, err
	}
	raw, ok := s.store.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	rec, err := s.conn.engine.codec.Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *memoryScope) GetAll(ctx context.Context) ([]engine.Record, error) {
	if err := s.check(ctx, false); err != nil {
		return nil, err
	}

	type entry struct {
		key string
		raw []byte
	}
	var entries []entry
	s.store.data.Range(func(key string, raw []byte) bool {
		entries = append(entries, entry{key, raw})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	recs := make([]engine.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := s.conn.engine.codec.Decode(e.raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.key, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *memoryScope) Add(ctx context.Context, rec engine.Record) error {
	return s.write(ctx, rec, true)
}

func (s *memoryScope) Put(ctx context.Context, rec engine.Record) error {
	return s.write(ctx, rec, false)
}

func (s *memoryScope) write(ctx context.Context, rec engine.Record, mustNotExist bool) error {
	if err := s.check(ctx, true); err != nil {
		return err
	}
	key, err := engine.KeyOf(rec, s.store.keyPath)
	if err != nil {
		return err
	}
	encoded, err := s.conn.engine.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.store.write(key, rec, encoded, mustNotExist)
}

func (s *memoryScope) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx, true); err != nil {
		return err
	}
	s.store.remove(key)
	return nil
}

func (s *memoryScope) Clear(ctx context.Context) error {
	if err := s.check(ctx, true); err != nil {
		return err
	}
	s.store.clear()
	return nil
}
