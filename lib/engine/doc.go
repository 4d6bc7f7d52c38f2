// Package engine defines the storage engine the coordinator runs against.
// An engine holds named databases, each opened at a version, each holding named
// stores of Records keyed by a key path. It mirrors the primitives of a
// browser-style object store: open with an upgrade callback, begin an access
// scope on a store, and issue independent get/getAll/add/put/delete/clear requests.
//
// Key Components:
//
//   - Engine Interface: Open, Databases, DeleteDatabase plus feature discovery
//     through SupportsFeature and metadata through GetInfo.
//
//   - UpgradeFunc / UpgradeTx: the only place where stores and indexes can be
//     created. An upgrade runs when a database is new or opened at a higher
//     version. A failed upgrade is rolled back completely.
//
//   - Conn / Scope: a connection is owned by one caller. A scope is begun per store
//     and access mode; writes on a read-only scope fail with ErrReadOnly.
//
//   - Record: a map keyed by field name. Primary keys and index values are read
//     through dotted key paths (KeyOf, IndexValue).
//
// Request semantics every engine must honor (checked by the testing package):
//   - Add fails with ErrKeyExists for a present key, Put replaces.
//   - Delete of an absent key succeeds.
//   - GetAll on an empty store returns an empty slice.
//   - Unique indexes reject a second record with the same index value (ErrConstraint).
//   - Reads return copies; mutating a returned Record never changes stored data.
//
// Related Packages:
//
// The engines/memory package provides an in-memory engine on xsync maps with
// binary snapshots. The engines/sqlite package provides a durable engine on SQLite.
// The codec package encodes records for storage. The testing package contains the
// conformance suite (RunEngineTests) every engine runs.
package engine
