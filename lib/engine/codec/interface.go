package codec

import (
	"fmt"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// IRecordCodec is the interface for all record codecs used by engines to store records
type IRecordCodec interface {
	// Name returns the name of the codec (used in snapshot headers and configuration)
	Name() string
	// Encode encodes a record into a byte array
	Encode(rec engine.Record) ([]byte, error)
	// Decode decodes a byte array into a new record
	Decode(b []byte) (engine.Record, error)
}

// ByName returns the codec registered under the given name
func ByName(name string) (IRecordCodec, error) {
	switch name {
	case "json", "":
		return NewJSONCodec(), nil
	case "gob":
		return NewGOBCodec(), nil
	default:
		return nil, fmt.Errorf("invalid codec %s (expected json or gob)", name)
	}
}
