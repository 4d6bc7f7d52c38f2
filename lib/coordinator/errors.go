package coordinator

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps an error of an operation together with a return code (of type RetCode).
// Key is set for errors of a single sub-request.
type Error struct {
	Code RetCode // The return code
	Op   string  // The operation (insert, delete, get, ...)
	Key  string  // The affected key (sub-request errors only)
	Err  error   // The underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storekit %s (code %s, key %q): %v", e.Op, e.Code, e.Key, e.Err)
	}
	return fmt.Sprintf("storekit %s (code %s): %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code RetCode, op, key string, err error) *Error {
	return &Error{Code: code, Op: op, Key: key, Err: err}
}

// CodeOf returns the RetCode of err, RetCSuccess for nil and RetCInternalError
// for errors that are not a *Error.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess        RetCode = iota // 0: Operation completed.
	RetCInternalError                 // 1: Unclassified failure.
	RetCConnectionOpen                // 2: The database could not be opened or the store scope could not be begun.
	RetCSubRequest                    // 3: A single key failed, its siblings are unaffected.
	RetCUnavailable                   // 4: No usable storage engine.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCConnectionOpen:
		return "ConnectionOpen"
	case RetCSubRequest:
		return "SubRequest"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Sentinels
// --------------------------------------------------------------------------

var (
	// ErrUnavailable is returned by every operation of a coordinator without a usable engine
	ErrUnavailable = errors.New("storage engine unavailable")
	// ErrSchemaNotDefined is the cause of an open failure when a record operation targets a
	// database version that was never reconciled. Record operations never change structure.
	ErrSchemaNotDefined = errors.New("database version is not defined, reconcile the schema first")
	// ErrTimestampExhausted fails a write whose stored updatedAt leaves no later millisecond
	ErrTimestampExhausted = errors.New("no timestamp after the stored updatedAt is left")
)
