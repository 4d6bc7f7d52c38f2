package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/ValentinKolb/storekit/lib/engine/codec"
	"github.com/ValentinKolb/storekit/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Core memory engine structure
// --------------------------------------------------------------------------

// memoryImpl implements engine.Engine with all data held in xsync maps
type memoryImpl struct {
	codec  codec.IRecordCodec
	dbs    *xsync.MapOf[string, *database]
	closed atomic.Bool
}

// database is one named database. Structural changes (upgrades, deletion) are
// serialized by mu, record access goes through the stores map directly.
type database struct {
	name    string
	mu      sync.Mutex
	version uint64 // guarded by mu
	stores  *xsync.MapOf[string, *objectStore]
	deleted atomic.Bool
}

// Options configures the memory engine
type Options struct {
	Codec codec.IRecordCodec // Codec used to store records (nil = json)
}

// DefaultOptions returns the default memory engine options
func DefaultOptions() *Options {
	return &Options{
		Codec: codec.NewJSONCodec(),
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMemoryEngine creates a new in-memory engine with the specified options (optional).
// The returned engine also implements engine.Snapshotter.
func NewMemoryEngine(opts *Options) engine.Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewJSONCodec()
	}

	return &memoryImpl{
		codec: opts.Codec,
		dbs:   xsync.NewMapOf[string, *database](),
	}
}

func newDatabase(name string) *database {
	return &database{
		name:   name,
		stores: xsync.NewMapOf[string, *objectStore](),
	}
}

// --------------------------------------------------------------------------
// Engine Interface Methods
// --------------------------------------------------------------------------

// Open opens (and if needed creates or upgrades) a database.
//
// Thread-safety: Opens of the same database are serialized, opens of different databases run concurrently.
func (m *memoryImpl) Open(ctx context.Context, name string, version uint64, upgrade engine.UpgradeFunc) (engine.Conn, error) {
	if m.closed.Load() {
		return nil, engine.ErrClosed
	}
	if name == "" {
		return nil, engine.ErrInvalidName
	}
	if version == 0 {
		return nil, engine.ErrInvalidVersion
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for {
		db, _ := m.dbs.LoadOrCompute(name, func() *database {
			return newDatabase(name)
		})

		db.mu.Lock()
		// the database was deleted between lookup and lock -> retry with a fresh one
		if db.deleted.Load() {
			db.mu.Unlock()
			continue
		}

		conn, err := m.openLocked(db, version, upgrade)
		db.mu.Unlock()
		return conn, err
	}
}

// openLocked performs the version check and the upgrade. db.mu must be held.
func (m *memoryImpl) openLocked(db *database, version uint64, upgrade engine.UpgradeFunc) (engine.Conn, error) {
	if version < db.version {
		return nil, fmt.Errorf("%w: %s is at version %d, requested %d", engine.ErrVersion, db.name, db.version, version)
	}

	if version > db.version {
		tx := &upgradeTx{
			db:         db,
			oldVersion: db.version,
			newVersion: version,
			staged:     map[string]*objectStore{},
		}

		if upgrade != nil {
			err := upgrade(tx)
			tx.finished = true
			if err != nil {
				// a database that never completed its first upgrade does not exist
				if db.version == 0 {
					db.deleted.Store(true)
					m.dbs.Compute(db.name, func(current *database, loaded bool) (*database, bool) {
						return current, loaded && current == db
					})
				}
				Logger.Warningf("upgrade of %s to version %d aborted: %v", db.name, version, err)
				return nil, fmt.Errorf("%w: %w", engine.ErrUpgradeAborted, err)
			}
		}
		tx.finished = true

		// commit staged stores
		for storeName, s := range tx.staged {
			db.stores.Store(storeName, s)
		}
		Logger.Debugf("upgraded %s from version %d to %d (%d new stores)", db.name, tx.oldVersion, version, len(tx.staged))
		db.version = version
	}

	return newConn(m, db, db.version), nil
}

func (m *memoryImpl) Databases(ctx context.Context) ([]engine.DatabaseInfo, error) {
	if m.closed.Load() {
		return nil, engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byName := map[string]engine.DatabaseInfo{}
	m.dbs.Range(func(name string, db *database) bool {
		db.mu.Lock()
		version := db.version
		db.mu.Unlock()
		if version == 0 || db.deleted.Load() {
			return true
		}
		byName[name] = engine.DatabaseInfo{
			Name:    name,
			Version: version,
			Stores:  db.storeNames(),
		}
		return true
	})

	infos := make([]engine.DatabaseInfo, 0, len(byName))
	for _, name := range util.SortedKeys(byName) {
		infos = append(infos, byName[name])
	}
	return infos, nil
}

func (m *memoryImpl) DeleteDatabase(ctx context.Context, name string) error {
	if m.closed.Load() {
		return engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	db, ok := m.dbs.Load(name)
	if !ok {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.deleted.Store(true)
	m.dbs.Compute(name, func(current *database, loaded bool) (*database, bool) {
		return current, loaded && current == db
	})
	return nil
}

// GetInfo returns statistics about the engine
func (m *memoryImpl) GetInfo() engine.Info {
	histogram := util.NewSizeHistogram()
	var databases, stores int

	m.dbs.Range(func(_ string, db *database) bool {
		if db.deleted.Load() {
			return true
		}
		databases++
		db.stores.Range(func(_ string, s *objectStore) bool {
			stores++
			s.data.Range(func(_ string, value []byte) bool {
				histogram.AddSample(len(value))
				return true
			})
			return true
		})
		return true
	})

	// 16 bytes of map overhead per record is an estimate
	records := int(histogram.Count())
	sizeBytes := int(histogram.Sum()) + records*16

	meta := &struct {
		Codec          string `json:"codec"`
		AvgRecordBytes int    `json:"avg_record_bytes"`
		P90RecordBytes int    `json:"p90_record_bytes"`
		Info           string `json:"info"`
	}{
		Codec:          m.codec.Name(),
		AvgRecordBytes: histogram.AverageSize(),
		P90RecordBytes: histogram.PercentileEstimate(90),
		Info:           "SizeBytes is an estimate, P90RecordBytes is bucketed.",
	}

	return engine.Info{
		SizeBytes:         sizeBytes,
		EngineType:        engine.ImplMemory,
		Databases:         databases,
		Stores:            stores,
		Records:           records,
		SupportedFeatures: supportedFeatures,
		Metadata:          meta,
	}
}

var supportedFeatures = []engine.Feature{
	engine.FeatureUpgrade, engine.FeatureIndex,
	engine.FeatureGet, engine.FeatureGetAll,
	engine.FeatureAdd, engine.FeaturePut,
	engine.FeatureDelete, engine.FeatureClear,
	engine.FeatureSave, engine.FeatureLoad,
}

// SupportsFeature checks if this implementation supports a specific engine feature
func (m *memoryImpl) SupportsFeature(feature engine.Feature) bool {
	var all engine.Feature
	for _, f := range supportedFeatures {
		all |= f
	}
	return all&feature == feature
}

// Close marks the engine as closed, all connections become unusable
func (m *memoryImpl) Close() error {
	m.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Database helpers
// --------------------------------------------------------------------------

func (db *database) storeNames() []string {
	names := map[string]struct{}{}
	db.stores.Range(func(name string, _ *objectStore) bool {
		names[name] = struct{}{}
		return true
	})
	return util.SortedKeys(names)
}

// --------------------------------------------------------------------------
// Upgrade transaction
// --------------------------------------------------------------------------

// upgradeTx stages new stores, they become visible only after the upgrade function succeeded
type upgradeTx struct {
	db         *database
	oldVersion uint64
	newVersion uint64
	staged     map[string]*objectStore
	finished   bool
}

func (tx *upgradeTx) OldVersion() uint64 { return tx.oldVersion }
func (tx *upgradeTx) NewVersion() uint64 { return tx.newVersion }

func (tx *upgradeTx) StoreNames() []string {
	names := map[string]struct{}{}
	for _, name := range tx.db.storeNames() {
		names[name] = struct{}{}
	}
	for name := range tx.staged {
		names[name] = struct{}{}
	}
	return util.SortedKeys(names)
}

func (tx *upgradeTx) HasStore(name string) bool {
	if _, ok := tx.staged[name]; ok {
		return true
	}
	_, ok := tx.db.stores.Load(name)
	return ok
}

func (tx *upgradeTx) CreateStore(name, keyPath string) (engine.StoreBuilder, error) {
	if tx.finished {
		return nil, engine.ErrUpgradeFinished
	}
	if name == "" || keyPath == "" {
		return nil, engine.ErrInvalidName
	}
	if tx.HasStore(name) {
		return nil, fmt.Errorf("%w: %s", engine.ErrStoreExists, name)
	}
	s := newObjectStore(name, keyPath)
	tx.staged[name] = s
	return &storeBuilder{tx: tx, store: s}, nil
}

type storeBuilder struct {
	tx    *upgradeTx
	store *objectStore
}

func (b *storeBuilder) CreateIndex(name, keyPath string, opts engine.IndexOptions) error {
	if b.tx.finished {
		return engine.ErrUpgradeFinished
	}
	if name == "" || keyPath == "" {
		return engine.ErrInvalidName
	}
	return b.store.addIndex(engine.IndexSchema{Name: name, KeyPath: keyPath, Options: opts})
}
