package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/ValentinKolb/storekit/lib/engine/codec"
	"github.com/lni/dragonboat/v4/logger"
	_ "modernc.org/sqlite"
)

var Logger = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// catalog tables of the engine, every database shares one sqlite file
var schema = []string{
	`CREATE TABLE IF NOT EXISTS databases (
		name    TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		db       TEXT NOT NULL,
		name     TEXT NOT NULL,
		key_path TEXT NOT NULL,
		PRIMARY KEY (db, name)
	)`,
	`CREATE TABLE IF NOT EXISTS indexes (
		db        TEXT NOT NULL,
		store     TEXT NOT NULL,
		name      TEXT NOT NULL,
		key_path  TEXT NOT NULL,
		is_unique INTEGER NOT NULL,
		PRIMARY KEY (db, store, name)
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		db    TEXT NOT NULL,
		store TEXT NOT NULL,
		key   TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (db, store, key)
	)`,
	`CREATE TABLE IF NOT EXISTS unique_entries (
		db    TEXT NOT NULL,
		store TEXT NOT NULL,
		idx   TEXT NOT NULL,
		value TEXT NOT NULL,
		key   TEXT NOT NULL,
		PRIMARY KEY (db, store, idx, value)
	)`,
	`CREATE INDEX IF NOT EXISTS unique_entries_by_key ON unique_entries (db, store, key)`,
}

// --------------------------------------------------------------------------
// Core sqlite engine structure
// --------------------------------------------------------------------------

type sqliteImpl struct {
	db     *sql.DB
	path   string
	codec  codec.IRecordCodec
	closed atomic.Bool
}

// Options configures the sqlite engine
type Options struct {
	Path  string             // Path of the database file (":memory:" for a private in-memory database)
	Codec codec.IRecordCodec // Codec used to store records (nil = json)
}

// NewSQLiteEngine opens (or creates) the sqlite file and prepares the catalog tables.
//
// All access goes through a single connection, so writes are serialized and every
// read observes the latest committed write.
func NewSQLiteEngine(opts Options) (engine.Engine, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite engine: path is required")
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewJSONCodec()
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	Logger.Infof("sqlite engine ready at %s (codec %s)", opts.Path, opts.Codec.Name())
	return &sqliteImpl{db: db, path: opts.Path, codec: opts.Codec}, nil
}

// withTx runs fn in a transaction, committing if fn succeeds
func (s *sqliteImpl) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Engine Interface Methods
// --------------------------------------------------------------------------

func (s *sqliteImpl) Open(ctx context.Context, name string, version uint64, upgrade engine.UpgradeFunc) (engine.Conn, error) {
	if s.closed.Load() {
		return nil, engine.ErrClosed
	}
	if name == "" {
		return nil, engine.ErrInvalidName
	}
	if version == 0 {
		return nil, engine.ErrInvalidVersion
	}

	var upgradeErr error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM databases WHERE name = ?`, name).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if version < uint64(current) {
			return fmt.Errorf("%w: %s is at version %d, requested %d", engine.ErrVersion, name, current, version)
		}
		if version == uint64(current) {
			return nil
		}

		utx := &upgradeTx{ctx: ctx, tx: tx, db: name, oldVersion: uint64(current), newVersion: version}
		if upgrade != nil {
			upgradeErr = upgrade(utx)
			utx.finished = true
			if upgradeErr == nil {
				upgradeErr = utx.err
			}
			if upgradeErr != nil {
				// returning rolls back every statement of the upgrade
				return upgradeErr
			}
		}
		utx.finished = true

		_, err = tx.ExecContext(ctx,
			`INSERT INTO databases (name, version) VALUES (?, ?)
			 ON CONFLICT (name) DO UPDATE SET version = excluded.version`,
			name, int64(version))
		if err == nil {
			Logger.Debugf("upgraded %s from version %d to %d", name, current, version)
		}
		return err
	})
	if upgradeErr != nil {
		Logger.Warningf("upgrade of %s to version %d aborted: %v", name, version, upgradeErr)
		return nil, fmt.Errorf("%w: %w", engine.ErrUpgradeAborted, upgradeErr)
	}
	if err != nil {
		return nil, err
	}

	return newConn(s, name, version), nil
}

func (s *sqliteImpl) Databases(ctx context.Context) ([]engine.DatabaseInfo, error) {
	if s.closed.Load() {
		return nil, engine.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, version FROM databases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	infos := []engine.DatabaseInfo{}
	for rows.Next() {
		var (
			info    engine.DatabaseInfo
			version int64
		)
		if err := rows.Scan(&info.Name, &version); err != nil {
			_ = rows.Close()
			return nil, err
		}
		info.Version = uint64(version)
		infos = append(infos, info)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// the single connection is free again once rows are closed
	for i := range infos {
		if infos[i].Stores, err = storeNames(ctx, s.db, infos[i].Name); err != nil {
			return nil, err
		}
	}
	return infos, nil
}

func (s *sqliteImpl) DeleteDatabase(ctx context.Context, name string) error {
	if s.closed.Load() {
		return engine.ErrClosed
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"databases", "stores", "indexes", "records", "unique_entries"} {
			column := "db"
			if table == "databases" {
				column = "name"
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, column), name); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetInfo returns statistics about the engine
func (s *sqliteImpl) GetInfo() engine.Info {
	ctx := context.Background()
	info := engine.Info{
		EngineType:        engine.ImplSQLite,
		SupportedFeatures: supportedFeatures,
	}

	count := func(query string) int {
		var n int
		if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			Logger.Warningf("info query %q failed: %v", query, err)
		}
		return n
	}
	info.Databases = count(`SELECT COUNT(*) FROM databases`)
	info.Stores = count(`SELECT COUNT(*) FROM stores`)
	info.Records = count(`SELECT COUNT(*) FROM records`)
	pageCount := count(`PRAGMA page_count`)
	pageSize := count(`PRAGMA page_size`)
	info.SizeBytes = pageCount * pageSize

	info.Metadata = &struct {
		Path         string `json:"path"`
		Codec        string `json:"codec"`
		PayloadBytes int    `json:"payload_bytes"`
	}{
		Path:         s.path,
		Codec:        s.codec.Name(),
		PayloadBytes: count(`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM records`),
	}
	return info
}

var supportedFeatures = []engine.Feature{
	engine.FeatureUpgrade, engine.FeatureIndex,
	engine.FeatureGet, engine.FeatureGetAll,
	engine.FeatureAdd, engine.FeaturePut,
	engine.FeatureDelete, engine.FeatureClear,
	engine.FeatureDurable,
}

// SupportsFeature checks if this implementation supports a specific engine feature
func (s *sqliteImpl) SupportsFeature(feature engine.Feature) bool {
	var all engine.Feature
	for _, f := range supportedFeatures {
		all |= f
	}
	return all&feature == feature
}

// Close closes the underlying database, all connections become unusable
func (s *sqliteImpl) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Query helpers
// --------------------------------------------------------------------------

// querier is implemented by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storeNames(ctx context.Context, q querier, db string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM stores WHERE db = ? ORDER BY name`, db)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func hasStore(ctx context.Context, q querier, db, store string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM stores WHERE db = ? AND name = ?`, db, store).Scan(&n)
	return n > 0, err
}

// --------------------------------------------------------------------------
// Upgrade transaction
// --------------------------------------------------------------------------

// upgradeTx writes structural changes into the open sql transaction of Open
type upgradeTx struct {
	ctx        context.Context
	tx         *sql.Tx
	db         string
	oldVersion uint64
	newVersion uint64
	finished   bool
	err        error // first query error, aborts the upgrade
}

func (u *upgradeTx) OldVersion() uint64 { return u.oldVersion }
func (u *upgradeTx) NewVersion() uint64 { return u.newVersion }

func (u *upgradeTx) fail(err error) {
	if u.err == nil {
		u.err = err
	}
}

func (u *upgradeTx) StoreNames() []string {
	names, err := storeNames(u.ctx, u.tx, u.db)
	if err != nil {
		u.fail(err)
	}
	return names
}

func (u *upgradeTx) HasStore(name string) bool {
	ok, err := hasStore(u.ctx, u.tx, u.db, name)
	if err != nil {
		u.fail(err)
	}
	return ok
}

func (u *upgradeTx) CreateStore(name, keyPath string) (engine.StoreBuilder, error) {
	if u.finished {
		return nil, engine.ErrUpgradeFinished
	}
	if name == "" || keyPath == "" {
		return nil, engine.ErrInvalidName
	}
	exists, err := hasStore(u.ctx, u.tx, u.db, name)
	if err != nil {
		u.fail(err)
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", engine.ErrStoreExists, name)
	}
	if _, err := u.tx.ExecContext(u.ctx,
		`INSERT INTO stores (db, name, key_path) VALUES (?, ?, ?)`, u.db, name, keyPath); err != nil {
		u.fail(err)
		return nil, err
	}
	return &storeBuilder{u: u, store: name}, nil
}

type storeBuilder struct {
	u     *upgradeTx
	store string
}

func (b *storeBuilder) CreateIndex(name, keyPath string, opts engine.IndexOptions) error {
	u := b.u
	if u.finished {
		return engine.ErrUpgradeFinished
	}
	if name == "" || keyPath == "" {
		return engine.ErrInvalidName
	}

	var n int
	if err := u.tx.QueryRowContext(u.ctx,
		`SELECT COUNT(*) FROM indexes WHERE db = ? AND store = ? AND name = ?`, u.db, b.store, name).Scan(&n); err != nil {
		u.fail(err)
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s on store %s", engine.ErrIndexExists, name, b.store)
	}

	unique := 0
	if opts.Unique {
		unique = 1
	}
	if _, err := u.tx.ExecContext(u.ctx,
		`INSERT INTO indexes (db, store, name, key_path, is_unique) VALUES (?, ?, ?, ?, ?)`,
		u.db, b.store, name, keyPath, unique); err != nil {
		u.fail(err)
		return err
	}
	return nil
}
