package coordinator

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/ValentinKolb/storekit/lib/engine/engines/memory"
	"github.com/ValentinKolb/storekit/lib/engine/engines/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

var (
	notesSchema = Schema{
		DBName:  "app",
		Version: 1,
		Stores:  []StoreDecl{{Name: "notes", KeyPath: "key"}},
	}
	notes = Target{DBName: "app", Version: 1, StoreName: "notes"}
)

type engineFactory func(t *testing.T) engine.Engine

var engines = map[string]engineFactory{
	"memory": func(t *testing.T) engine.Engine {
		return memory.NewMemoryEngine(nil)
	},
	"sqlite": func(t *testing.T) engine.Engine {
		e, err := sqlite.NewSQLiteEngine(sqlite.Options{Path: filepath.Join(t.TempDir(), "test.db")})
		require.NoError(t, err)
		return e
	},
}

// forEachEngine runs fn once per engine implementation
func forEachEngine(t *testing.T, fn func(t *testing.T, eng engine.Engine)) {
	for name, factory := range engines {
		t.Run(name, func(t *testing.T) {
			eng := factory(t)
			t.Cleanup(func() { _ = eng.Close() })
			fn(t, eng)
		})
	}
}

// fixedNow returns a time source that always reports the same millisecond
func fixedNow(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

// setupNotes creates a coordinator with the "app"/1/"notes" schema reconciled
func setupNotes(t *testing.T, eng engine.Engine, opts *Options) *Coordinator {
	t.Helper()
	c := New(eng, opts)
	res := c.Setup(context.Background(), []Schema{notesSchema})
	require.NoError(t, res.Err)
	require.Len(t, res.Schemas, 1)
	require.True(t, res.Schemas[0].Success)
	return c
}

func ts(t *testing.T, rec engine.Record, field string) int64 {
	t.Helper()
	v, ok := engine.ToInt64(rec[field])
	require.True(t, ok, "record has no numeric %s: %v", field, rec)
	return v
}

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

var errInjected = errors.New("injected failure")

// faultyEngine wraps an engine and fails single requests:
// Get of key "bad", Put of key "bad-put", every GetAll and every Clear.
type faultyEngine struct {
	engine.Engine
	opens atomic.Int32
}

func (f *faultyEngine) Open(ctx context.Context, name string, version uint64, upgrade engine.UpgradeFunc) (engine.Conn, error) {
	f.opens.Add(1)
	conn, err := f.Engine.Open(ctx, name, version, upgrade)
	if err != nil {
		return nil, err
	}
	return &faultyConn{Conn: conn}, nil
}

type faultyConn struct {
	engine.Conn
}

func (c *faultyConn) Store(name string, mode engine.Mode) (engine.Scope, error) {
	s, err := c.Conn.Store(name, mode)
	if err != nil {
		return nil, err
	}
	return &faultyScope{Scope: s}, nil
}

type faultyScope struct {
	engine.Scope
}

func (s *faultyScope) Get(ctx context.Context, key string) (engine.Record, bool, error) {
	if key == "bad" {
		return nil, false, errInjected
	}
	return s.Scope.Get(ctx, key)
}

func (s *faultyScope) Put(ctx context.Context, rec engine.Record) error {
	if rec["key"] == "bad-put" {
		return errInjected
	}
	return s.Scope.Put(ctx, rec)
}

func (s *faultyScope) GetAll(ctx context.Context) ([]engine.Record, error) {
	return nil, errInjected
}

func (s *faultyScope) Clear(ctx context.Context) error {
	return errInjected
}

// keylessEngine adds a record without a key to every GetAll
type keylessEngine struct {
	engine.Engine
}

func (e keylessEngine) Open(ctx context.Context, name string, version uint64, upgrade engine.UpgradeFunc) (engine.Conn, error) {
	conn, err := e.Engine.Open(ctx, name, version, upgrade)
	if err != nil {
		return nil, err
	}
	return keylessConn{Conn: conn}, nil
}

type keylessConn struct {
	engine.Conn
}

func (c keylessConn) Store(name string, mode engine.Mode) (engine.Scope, error) {
	s, err := c.Conn.Store(name, mode)
	if err != nil {
		return nil, err
	}
	return keylessScope{Scope: s}, nil
}

type keylessScope struct {
	engine.Scope
}

func (s keylessScope) GetAll(ctx context.Context) ([]engine.Record, error) {
	recs, err := s.Scope.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return append(recs, engine.Record{"text": "orphan"}), nil
}

// limitedEngine reports no features at all
type limitedEngine struct {
	engine.Engine
}

func (limitedEngine) SupportsFeature(engine.Feature) bool { return false }

// countingEngine records every connection it hands out
type countingEngine struct {
	engine.Engine
	conns atomic.Pointer[[]*countedConn]
}

type countedConn struct {
	engine.Conn
	closes atomic.Int32
}

func (c *countedConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func (e *countingEngine) Open(ctx context.Context, name string, version uint64, upgrade engine.UpgradeFunc) (engine.Conn, error) {
	conn, err := e.Engine.Open(ctx, name, version, upgrade)
	if err != nil {
		return nil, err
	}
	cc := &countedConn{Conn: conn}
	for {
		old := e.conns.Load()
		var next []*countedConn
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, cc)
		if e.conns.CompareAndSwap(old, &next) {
			return cc, nil
		}
	}
}

func (e *countingEngine) connections() []*countedConn {
	if p := e.conns.Load(); p != nil {
		return *p
	}
	return nil
}

// --------------------------------------------------------------------------
// Capability
// --------------------------------------------------------------------------

func TestUnavailable(t *testing.T) {
	ctx := context.Background()

	for name, c := range map[string]*Coordinator{
		"nil engine":      New(nil, nil),
		"missing feature": New(limitedEngine{memory.NewMemoryEngine(nil)}, nil),
	} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, c.Supported())

			called := false
			onErr := func(error) { called = true }

			setup := c.Setup(ctx, []Schema{notesSchema})
			assert.False(t, setup.Supported)
			assert.ErrorIs(t, setup.Err, ErrUnavailable)

			_, err := c.DefineSchemas(ctx, DefineOptions{Schemas: []Schema{notesSchema}, OnResult: func([]SchemaResult) { called = true }})
			assert.ErrorIs(t, err, ErrUnavailable)

			_, err = c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a"}}, OnSuccess: func([]WriteResult) { called = true }, OnError: onErr})
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, RetCUnavailable, CodeOf(err))

			_, err = c.Delete(ctx, DeleteOptions{Target: notes, Keys: []string{"a"}, OnError: onErr})
			assert.ErrorIs(t, err, ErrUnavailable)

			_, err = c.Get(ctx, GetOptions{Target: notes, Keys: []string{"a"}, OnError: onErr})
			assert.ErrorIs(t, err, ErrUnavailable)

			_, err = c.GetAll(ctx, GetAllOptions{Target: notes, OnError: onErr})
			assert.ErrorIs(t, err, ErrUnavailable)

			err = c.Clear(ctx, ClearOptions{Target: notes, OnError: onErr})
			assert.ErrorIs(t, err, ErrUnavailable)

			assert.False(t, called, "no callback may run without an engine")
			assert.False(t, c.Ready())
		})
	}
}

func TestSetup(t *testing.T) {
	c := New(memory.NewMemoryEngine(nil), nil)
	assert.True(t, c.Supported())
	assert.False(t, c.Ready())

	res := c.Setup(context.Background(), []Schema{notesSchema})
	require.NoError(t, res.Err)
	assert.True(t, res.Supported)
	assert.True(t, res.Ready)
	assert.True(t, c.Ready())
	require.Len(t, res.Schemas, 1)
	assert.Equal(t, "app", res.Schemas[0].DBName)
}

func TestErrorFormatting(t *testing.T) {
	err := newError(RetCSubRequest, "insert", "a", engine.ErrKeyExists)
	assert.Contains(t, err.Error(), "SubRequest")
	assert.Contains(t, err.Error(), `"a"`)
	assert.ErrorIs(t, err, engine.ErrKeyExists)

	assert.Equal(t, RetCSuccess, CodeOf(nil))
	assert.Equal(t, RetCInternalError, CodeOf(errInjected))
	assert.Equal(t, RetCSubRequest, CodeOf(err))
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	c := newClock(fixedNow(1000))
	next := func() int64 {
		v, err := c.next()
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, int64(1000), next())
	assert.Equal(t, int64(1001), next())

	// a stored record from the future still gets a later timestamp
	after, err := c.after(5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5001), after)
	assert.Greater(t, next(), int64(5001))
}

func TestClockExhausted(t *testing.T) {
	c := newClock(fixedNow(1000))
	_, err := c.after(math.MaxInt64)
	assert.ErrorIs(t, err, ErrTimestampExhausted)

	last, err := c.after(math.MaxInt64 - 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), last)

	_, err = c.next()
	assert.ErrorIs(t, err, ErrTimestampExhausted)
	_, err = c.after(10)
	assert.ErrorIs(t, err, ErrTimestampExhausted)
}

func TestDeclarationKey(t *testing.T) {
	a := []Schema{notesSchema}
	b := []Schema{{DBName: "app", Version: 1, Stores: []StoreDecl{{Name: "notes", KeyPath: "key"}}}}
	c := []Schema{{DBName: "app", Version: 2, Stores: []StoreDecl{{Name: "notes", KeyPath: "key"}}}}

	assert.Equal(t, declarationKey(a), declarationKey(b))
	assert.NotEqual(t, declarationKey(a), declarationKey(c))
}
