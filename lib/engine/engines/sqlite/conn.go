package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

type sqliteConn struct {
	id      string
	engine  *sqliteImpl
	name    string
	version uint64
	closed  atomic.Bool
}

func newConn(s *sqliteImpl, name string, version uint64) *sqliteConn {
	return &sqliteConn{
		id:      uuid.NewString(),
		engine:  s,
		name:    name,
		version: version,
	}
}

func (c *sqliteConn) ID() string      { return c.id }
func (c *sqliteConn) Name() string    { return c.name }
func (c *sqliteConn) Version() uint64 { return c.version }

func (c *sqliteConn) StoreNames() []string {
	if c.usable() != nil {
		return nil
	}
	names, err := storeNames(context.Background(), c.engine.db, c.name)
	if err != nil {
		Logger.Warningf("failed to list stores of %s: %v", c.name, err)
	}
	return names
}

func (c *sqliteConn) usable() error {
	if c.closed.Load() || c.engine.closed.Load() {
		return engine.ErrClosed
	}
	return nil
}

func (c *sqliteConn) Store(name string, mode engine.Mode) (engine.Scope, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	var keyPath string
	err := c.engine.db.QueryRow(`SELECT key_path FROM stores WHERE db = ? AND name = ?`, c.name, name).Scan(&keyPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s in database %s", engine.ErrStoreNotFound, name, c.name)
	}
	if err != nil {
		return nil, err
	}
	return &sqliteScope{conn: c, store: name, keyPath: keyPath, mode: mode}, nil
}

func (c *sqliteConn) Close() error {
	c.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Scope
// --------------------------------------------------------------------------

type sqliteScope struct {
	conn    *sqliteConn
	store   string
	keyPath string
	mode    engine.Mode
}

func (s *sqliteScope) Mode() engine.Mode { return s.mode }
func (s *sqliteScope) KeyPath() string   { return s.keyPath }

func (s *sqliteScope) check(ctx context.Context, write bool) error {
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

func (s *sqliteScope) Get(ctx context.Context, key string) (engine.Record, bool, error) {
	if err := s.check(ctx, false); err != nil {
		return nil, false, err
	}

	var raw []byte
	err := s.conn.engine.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE db = ? AND store = ? AND key = ?`,
		s.conn.name, s.store, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rec, err := s.conn.engine.codec.Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *sqliteScope) GetAll(ctx context.Context) ([]engine.Record, error) {
	if err := s.check(ctx, false); err != nil {
		return nil, err
	}

	rows, err := s.conn.engine.db.QueryContext(ctx,
		`SELECT key, value FROM records WHERE db = ? AND store = ? ORDER BY key`,
		s.conn.name, s.store)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []engine.Record{}
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		rec, err := s.conn.engine.codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *sqliteScope) Add(ctx context.Context, rec engine.Record) error {
	return s.write(ctx, rec, true)
}

func (s *sqliteScope) Put(ctx context.Context, rec engine.Record) error {
	return s.write(ctx, rec, false)
}

func (s *sqliteScope) write(ctx context.Context, rec engine.Record, mustNotExist bool) error {
	if err := s.check(ctx, true); err != nil {
		return err
	}
	key, err := engine.KeyOf(rec, s.keyPath)
	if err != nil {
		return err
	}
	encoded, err := s.conn.engine.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	db := s.conn.name
	return s.conn.engine.withTx(ctx, func(tx *sql.Tx) error {
		if mustNotExist {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM records WHERE db = ? AND store = ? AND key = ?`, db, s.store, key).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: %s", engine.ErrKeyExists, key)
			}
		}

		entries, err := s.uniqueEntries(ctx, tx, key, rec)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (db, store, key, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT (db, store, key) DO UPDATE SET value = excluded.value`,
			db, s.store, key, encoded); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM unique_entries WHERE db = ? AND store = ? AND key = ?`, db, s.store, key); err != nil {
			return err
		}
		for idx, value := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unique_entries (db, store, idx, value, key) VALUES (?, ?, ?, ?, ?)`,
				db, s.store, idx, value, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// uniqueEntries returns the unique index values of rec (index name -> value) and
// fails with ErrConstraint if another record already holds one of them.
func (s *sqliteScope) uniqueEntries(ctx context.Context, tx *sql.Tx, key string, rec engine.Record) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT name, key_path FROM indexes WHERE db = ? AND store = ? AND is_unique = 1`, s.conn.name, s.store)
	if err != nil {
		return nil, err
	}
	keyPaths := map[string]string{}
	for rows.Next() {
		var name, keyPath string
		if err := rows.Scan(&name, &keyPath); err != nil {
			_ = rows.Close()
			return nil, err
		}
		keyPaths[name] = keyPath
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	entries := map[string]string{}
	for name, keyPath := range keyPaths {
		value, ok := engine.IndexValue(rec, keyPath)
		if !ok {
			continue
		}
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT key FROM unique_entries WHERE db = ? AND store = ? AND idx = ? AND value = ?`,
			s.conn.name, s.store, name, value).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, err
		case owner != key:
			return nil, fmt.Errorf("%w: index %s already holds this value for key %s", engine.ErrConstraint, name, owner)
		}
		entries[name] = value
	}
	return entries, nil
}

func (s *sqliteScope) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx, true); err != nil {
		return err
	}
	return s.conn.engine.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"records", "unique_entries"} {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE db = ? AND store = ? AND key = ?`, table),
				s.conn.name, s.store, key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteScope) Clear(ctx context.Context) error {
	if err := s.check(ctx, true); err != nil {
		return err
	}
	return s.conn.engine.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"records", "unique_entries"} {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE db = ? AND store = ?`, table),
				s.conn.name, s.store); err != nil {
				return err
			}
		}
		return nil
	})
}
