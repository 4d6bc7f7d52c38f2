package coordinator

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/storekit/lib/util"
)

// Schema declares one database, evaluated at Version
type Schema struct {
	DBName  string      `json:"db" yaml:"db"`
	Version uint64      `json:"version" yaml:"version"`
	Stores  []StoreDecl `json:"stores" yaml:"stores"`
}

// StoreDecl declares one store and its primary key path
type StoreDecl struct {
	Name    string      `json:"name" yaml:"name"`
	KeyPath string      `json:"keyPath" yaml:"keyPath"`
	Indexes []IndexDecl `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// IndexDecl declares a secondary index of a store
type IndexDecl struct {
	Name    string `json:"name" yaml:"name"`
	KeyPath string `json:"keyPath" yaml:"keyPath"`
	Unique  bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// SchemaResult is the reconciliation outcome of one database.
// Success is true if the database could be opened, Upgraded if the upgrade ran.
type SchemaResult struct {
	DBName   string        `json:"db"`
	Version  uint64        `json:"version"`
	Success  bool          `json:"success"`
	Upgraded bool          `json:"upgraded"`
	Stores   []StoreResult `json:"stores"`
	Err      error         `json:"-"`
}

// StoreResult is the reconciliation outcome of one declared store
type StoreResult struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
	Existed bool   `json:"existed"`
	Err     error  `json:"-"`
}

// declarationKey identifies a declaration set, equal sets share one in-flight reconciliation
func declarationKey(schemas []Schema) string {
	parts := make([]string, 0, len(schemas)*4)
	for _, s := range schemas {
		parts = append(parts, "db", s.DBName, strconv.FormatUint(s.Version, 10))
		for _, st := range s.Stores {
			parts = append(parts, "store", st.Name, st.KeyPath)
			for _, idx := range st.Indexes {
				parts = append(parts, "index", idx.Name, idx.KeyPath, strconv.FormatBool(idx.Unique))
			}
		}
	}
	return fmt.Sprintf("%016x", uint64(util.HashParts(parts...)))
}
