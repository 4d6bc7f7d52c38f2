// Package memory implements engine.Engine with all data held in memory.
//
// Databases and their stores live in xsync maps, records are stored encoded by
// the configured codec (json by default), so every read hands out a fresh copy.
//
// Concurrency:
//   - Opens of one database are serialized; an upgrade stages new stores and
//     commits them only if the upgrade function succeeds.
//   - Reads never lock. Writes to one store are serialized by a per-store mutex,
//     which makes Add's existence check and unique index bookkeeping atomic.
//   - Writes to different stores run in parallel.
//
// Persistence:
//
//	The engine implements engine.Snapshotter. Save writes a binary snapshot
//	(magic "STKMEM", format version, codec name, then databases, stores,
//	indexes and records, all sorted). Load replaces the whole state. Use the
//	snapshot package to write compressed snapshot files atomically.
//
// Only unique indexes keep entries; non-unique indexes are schema metadata.
package memory
