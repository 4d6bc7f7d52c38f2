package codec

import (
	"encoding/json"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// NewJSONCodec creates a new codec using json encoding.
// Numbers are decoded as float64.
func NewJSONCodec() IRecordCodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the IRecordCodec interface using json encoding
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IRecordCodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) Name() string {
	return "json"
}

func (j jsonCodecImpl) Encode(rec engine.Record) ([]byte, error) {
	return json.Marshal(map[string]any(rec))
}

func (j jsonCodecImpl) Decode(b []byte) (engine.Record, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
