package schema

import (
	"fmt"

	"github.com/ValentinKolb/storekit/lib/coordinator"
	"gopkg.in/yaml.v3"
)

// schemaFile is the layout of a schema declaration file:
//
//	databases:
//	  - db: app
//	    version: 1
//	    stores:
//	      - name: notes
//	        keyPath: key
//	        indexes:
//	          - name: by_title
//	            keyPath: title
//	            unique: true
type schemaFile struct {
	Databases []coordinator.Schema `yaml:"databases"`
}

// ParseSchemaFile decodes and checks a schema declaration file
func ParseSchemaFile(data []byte) ([]coordinator.Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid schema file: %w", err)
	}
	if len(f.Databases) == 0 {
		return nil, fmt.Errorf("schema file declares no databases")
	}

	seen := map[string]bool{}
	for _, s := range f.Databases {
		if s.DBName == "" {
			return nil, fmt.Errorf("database without name")
		}
		if seen[s.DBName] {
			return nil, fmt.Errorf("database %s is declared twice", s.DBName)
		}
		seen[s.DBName] = true
		if s.Version == 0 {
			return nil, fmt.Errorf("database %s: version must be at least 1", s.DBName)
		}
		for _, st := range s.Stores {
			if st.Name == "" || st.KeyPath == "" {
				return nil, fmt.Errorf("database %s: every store needs a name and a keyPath", s.DBName)
			}
			for _, idx := range st.Indexes {
				if idx.Name == "" || idx.KeyPath == "" {
					return nil, fmt.Errorf("database %s, store %s: every index needs a name and a keyPath", s.DBName, st.Name)
				}
			}
		}
	}
	return f.Databases, nil
}
