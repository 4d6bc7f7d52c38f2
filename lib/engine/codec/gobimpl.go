package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/storekit/lib/engine"
)

func init() {
	// nested values are stored behind interfaces and must be known to gob
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(engine.Record{})
}

// NewGOBCodec creates a new codec using Go's binary gob format.
// Unlike json, gob keeps the concrete Go number types (int64 stays int64).
func NewGOBCodec() IRecordCodec {
	return &gobCodecImpl{}
}

// gobCodecImpl implements the IRecordCodec interface using gob encoding
type gobCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IRecordCodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl) Name() string {
	return "gob"
}

func (g gobCodecImpl) Encode(rec engine.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(map[string]any(rec)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl) Decode(b []byte) (engine.Record, error) {
	m := map[string]any{}
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
