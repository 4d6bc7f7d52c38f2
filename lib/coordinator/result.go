package coordinator

import (
	"github.com/ValentinKolb/storekit/lib/engine"
)

// State is the state of one key of a batch operation
type State int

const (
	// Pending is the initial state, no result is delivered while a key is pending
	Pending State = iota
	// Succeeded means the sub-request of the key completed
	Succeeded
	// Failed means the sub-request of the key failed, the result carries the error
	Failed
	// Skipped means no write was issued because the record exists and overwrite was not requested
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state will not change again
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WriteResult is the outcome of one record of an Insert.
// Record is the stored record (Succeeded) or the present, untouched record (Skipped).
type WriteResult struct {
	Key    string        `json:"key"`
	State  State         `json:"state"`
	Record engine.Record `json:"record,omitempty"`
	Err    error         `json:"-"`
}

// DeleteResult is the outcome of one key of a Delete
type DeleteResult struct {
	Key   string `json:"key"`
	State State  `json:"state"`
	Err   error  `json:"-"`
}

// GetResult is the outcome of one key of a Get or one record of a GetAll.
// Found is false for keys without a record, this is not a failure.
type GetResult struct {
	Key    string        `json:"key"`
	State  State         `json:"state"`
	Found  bool          `json:"found"`
	Record engine.Record `json:"record,omitempty"`
	Err    error         `json:"-"`
}
