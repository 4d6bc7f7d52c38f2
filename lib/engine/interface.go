package engine

import (
	"context"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemory Implementation = "memory"
	ImplSQLite Implementation = "sqlite"
)

// Mode is the access mode of a Scope
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeReadWrite
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "readonly"
	case ModeReadWrite:
		return "readwrite"
	default:
		return "unknown"
	}
}

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureUpgrade   Feature = 1 << iota // Support for store creation during upgrades
	FeatureIndex                         // Support for secondary indexes
	FeatureGet                           // Support for Get operations
	FeatureGetAll                        // Support for GetAll operations
	FeatureAdd                           // Support for Add operations
	FeaturePut                           // Support for Put operations
	FeatureDelete                        // Support for Delete operations
	FeatureClear                         // Support for Clear operations
	FeatureSave                          // Support for Save operations
	FeatureLoad                          // Support for Load operations
	FeatureDurable                       // Data survives a process restart without Save
)

// FeatureCore is the feature set every engine must provide to be usable by the coordinator
const FeatureCore = FeatureUpgrade | FeatureGet | FeatureGetAll | FeatureAdd | FeaturePut | FeatureDelete | FeatureClear

func (f Feature) String() string {
	switch f {
	case FeatureUpgrade:
		return "Upgrade"
	case FeatureIndex:
		return "Index"
	case FeatureGet:
		return "Get"
	case FeatureGetAll:
		return "GetAll"
	case FeatureAdd:
		return "Add"
	case FeaturePut:
		return "Put"
	case FeatureDelete:
		return "Delete"
	case FeatureClear:
		return "Clear"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureDurable:
		return "Durable"
	default:
		return "Unknown"
	}
}

// Info holds metadata about an engine instance
type Info struct {
	SizeBytes         int            `json:"size_bytes"`
	EngineType        Implementation `json:"engine_type"`
	Databases         int            `json:"databases"`
	Stores            int            `json:"stores"`
	Records           int            `json:"records"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// DatabaseInfo describes one database known to an engine
type DatabaseInfo struct {
	Name    string   `json:"name"`
	Version uint64   `json:"version"`
	Stores  []string `json:"stores"`
}

// IndexOptions configures a secondary index
type IndexOptions struct {
	Unique bool `json:"unique" yaml:"unique"`
}

// IndexSchema describes a secondary index of a store
type IndexSchema struct {
	Name    string
	KeyPath string
	Options IndexOptions
}

// --------------------------------------------------------------------------
// Upgrade
// --------------------------------------------------------------------------

// UpgradeFunc is called by Engine.Open when a database is created or opened at a
// higher version than the stored one. Structural changes are only allowed inside it.
// Returning an error aborts the upgrade; the engine rolls back every change made
// through the UpgradeTx and Open fails with ErrUpgradeAborted.
type UpgradeFunc func(tx UpgradeTx) error

// UpgradeTx is the version-change transaction handed to an UpgradeFunc.
// It is only valid for the duration of the UpgradeFunc call.
type UpgradeTx interface {
	// OldVersion returns the version before the upgrade (0 for a new database).
	OldVersion() uint64
	// NewVersion returns the version requested by Open.
	NewVersion() uint64
	// StoreNames returns the sorted names of all stores, including ones created in this upgrade.
	StoreNames() []string
	// HasStore reports whether a store exists, including ones created in this upgrade.
	HasStore(name string) bool
	// CreateStore creates a new store with the given primary key path.
	// It fails with ErrStoreExists if the store is already present.
	CreateStore(name, keyPath string) (StoreBuilder, error)
}

// StoreBuilder attaches secondary indexes to a store created during an upgrade.
type StoreBuilder interface {
	CreateIndex(name, keyPath string, opts IndexOptions) error
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine defines an embedded storage engine holding named databases of named stores.
// A database is opened at a version and yields a Conn; structural changes only happen
// in the UpgradeFunc passed to Open. Every method is safe for concurrent use.
type Engine interface {

	// Open opens the database with the given name at the given version.
	// If the database does not exist or version is higher than the stored one,
	// upgrade is called (nil upgrade still bumps the version).
	// Opening at a lower version than the stored one fails with ErrVersion,
	// version 0 fails with ErrInvalidVersion.
	Open(ctx context.Context, name string, version uint64, upgrade UpgradeFunc) (conn Conn, err error)

	// Databases lists all databases sorted by name.
	Databases(ctx context.Context) (dbs []DatabaseInfo, err error)

	// DeleteDatabase removes a database and all its stores. Deleting an unknown database is not an error.
	DeleteDatabase(ctx context.Context, name string) (err error)

	// SupportsFeature checks if the engine supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the engine.
	GetInfo() (info Info)

	// Close closes the engine. Open connections become unusable.
	Close() (err error)
}

// Conn is an open connection to one database. A Conn is owned by a single caller and
// is closed exactly once by it; Close is idempotent.
type Conn interface {
	// ID returns a unique id of this connection (for logging).
	ID() string
	// Name returns the database name.
	Name() string
	// Version returns the database version the connection was opened at.
	Version() uint64
	// StoreNames returns the sorted store names of the database.
	StoreNames() []string
	// Store begins an access scope on one store. It fails with ErrStoreNotFound for unknown
	// stores and ErrClosed after Close.
	Store(name string, mode Mode) (scope Scope, err error)
	// Close closes the connection.
	Close() (err error)
}

// Scope gives access to one store of a database. Every request completes independently;
// requests of different scopes may complete in any order.
type Scope interface {
	// Mode returns the access mode the scope was begun with.
	Mode() Mode
	// KeyPath returns the primary key path of the store.
	KeyPath() string
	// Get returns a copy of the record stored under key. found is false if there is none.
	Get(ctx context.Context, key string) (rec Record, found bool, err error)
	// GetAll returns copies of all records sorted by key.
	GetAll(ctx context.Context) (recs []Record, err error)
	// Add inserts a record. It fails with ErrKeyExists if the key is present.
	Add(ctx context.Context, rec Record) (err error)
	// Put inserts or replaces a record.
	Put(ctx context.Context, rec Record) (err error)
	// Delete removes the record stored under key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) (err error)
	// Clear removes all records of the store.
	Clear(ctx context.Context) (err error)
}

// Snapshotter is implemented by engines that can persist their whole state to a stream.
type Snapshotter interface {
	// Save writes all databases, stores, indexes and records to w.
	Save(w io.Writer) (err error)
	// Load replaces the engine state with the snapshot read from r.
	// It must not be called concurrently with other operations.
	Load(r io.Reader) (err error)
}
