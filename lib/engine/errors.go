package engine

import "errors"

var (
	ErrKeyExists       = errors.New("key already exists")
	ErrStoreExists     = errors.New("store already exists")
	ErrStoreNotFound   = errors.New("store not found")
	ErrIndexExists     = errors.New("index already exists")
	ErrVersion         = errors.New("requested version is lower than the stored version")
	ErrInvalidVersion  = errors.New("version must be greater than 0")
	ErrInvalidName     = errors.New("name must not be empty")
	ErrInvalidKey      = errors.New("record has no valid key")
	ErrReadOnly        = errors.New("write on a read-only scope")
	ErrConstraint      = errors.New("unique index constraint violated")
	ErrClosed          = errors.New("connection or engine is closed")
	ErrUpgradeAborted  = errors.New("upgrade aborted")
	ErrUpgradeFinished = errors.New("upgrade transaction is no longer active")
)
