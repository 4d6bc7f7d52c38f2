/*
Package sqlite implements a durable engine.Engine on top of a single sqlite file
(modernc.org/sqlite, no cgo).

All databases share five catalog tables: databases, stores, indexes, records and
unique_entries. Records are stored encoded by the configured codec. Upgrades run inside
one sql transaction, so an aborted upgrade leaves no trace.

Usage:

	eng, err := sqlite.NewSQLiteEngine(sqlite.Options{Path: "./data/storekit.db"})
	if err != nil {
		return err
	}
	defer eng.Close()
*/
package sqlite
