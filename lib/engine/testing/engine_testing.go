package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// EngineFactory creates a new, empty engine instance for one test
type EngineFactory func(t testing.TB) engine.Engine

// RunEngineTests runs the conformance test suite for an engine implementation.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("OpenAndUpgrade", func(t *testing.T) {
			testOpenAndUpgrade(t, factory(t))
		})

		t.Run("VersionRules", func(t *testing.T) {
			testVersionRules(t, factory(t))
		})

		t.Run("UpgradeAbort", func(t *testing.T) {
			testUpgradeAbort(t, factory(t))
		})

		t.Run("AddPutGet", func(t *testing.T) {
			testAddPutGet(t, factory(t))
		})

		t.Run("DeleteAndClear", func(t *testing.T) {
			testDeleteAndClear(t, factory(t))
		})

		t.Run("GetAll", func(t *testing.T) {
			testGetAll(t, factory(t))
		})

		t.Run("Scopes", func(t *testing.T) {
			testScopes(t, factory(t))
		})

		t.Run("UniqueIndex", func(t *testing.T) {
			testUniqueIndex(t, factory(t))
		})

		t.Run("CopySemantics", func(t *testing.T) {
			testCopySemantics(t, factory(t))
		})

		t.Run("Databases", func(t *testing.T) {
			testDatabases(t, factory(t))
		})

		t.Run("ConcurrentAdd", func(t *testing.T) {
			testConcurrentAdd(t, factory(t))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireFeature skips the test if the engine does not support the feature
func requireFeature(t testing.TB, e engine.Engine, feature engine.Feature) {
	if !e.SupportsFeature(feature) {
		t.Skip()
	}
}

// openWithStores opens a database and creates the given stores (key path "key") if needed
func openWithStores(t testing.TB, e engine.Engine, db string, version uint64, stores ...string) engine.Conn {
	t.Helper()
	conn, err := e.Open(context.Background(), db, version, func(tx engine.UpgradeTx) error {
		for _, s := range stores {
			if tx.HasStore(s) {
				continue
			}
			if _, err := tx.CreateStore(s, "key"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to open %s: %v", db, err)
	}
	return conn
}

func scope(t testing.TB, conn engine.Conn, store string, mode engine.Mode) engine.Scope {
	t.Helper()
	s, err := conn.Store(store, mode)
	if err != nil {
		t.Fatalf("Failed to begin %s scope on %s: %v", mode, store, err)
	}
	return s
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testOpenAndUpgrade(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureUpgrade)
	ctx := context.Background()

	var calls int
	conn, err := e.Open(ctx, "app", 1, func(tx engine.UpgradeTx) error {
		calls++
		if tx.OldVersion() != 0 || tx.NewVersion() != 1 {
			t.Errorf("Expected upgrade 0 -> 1, got %d -> %d", tx.OldVersion(), tx.NewVersion())
		}
		if tx.HasStore("notes") {
			t.Errorf("Expected no store in a new database")
		}
		b, err := tx.CreateStore("notes", "key")
		if err != nil {
			return err
		}
		if !tx.HasStore("notes") {
			t.Errorf("Expected HasStore to see a store created in the same upgrade")
		}
		if _, err := tx.CreateStore("notes", "key"); !errors.Is(err, engine.ErrStoreExists) {
			t.Errorf("Expected ErrStoreExists for a duplicate store, got %v", err)
		}
		return b.CreateIndex("by_text", "text", engine.IndexOptions{})
	})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 upgrade call, got %d", calls)
	}
	if conn.Name() != "app" || conn.Version() != 1 {
		t.Errorf("Expected app@1, got %s@%d", conn.Name(), conn.Version())
	}
	if names := conn.StoreNames(); len(names) != 1 || names[0] != "notes" {
		t.Errorf("Expected stores [notes], got %v", names)
	}
	if conn.ID() == "" {
		t.Errorf("Expected a connection id")
	}
	_ = conn.Close()

	// same version -> no upgrade
	conn, err = e.Open(ctx, "app", 1, func(tx engine.UpgradeTx) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	_ = conn.Close()
	if calls != 1 {
		t.Errorf("Expected no upgrade when reopening at the same version")
	}

	// higher version -> upgrade sees the old stores
	conn, err = e.Open(ctx, "app", 3, func(tx engine.UpgradeTx) error {
		calls++
		if tx.OldVersion() != 1 || tx.NewVersion() != 3 {
			t.Errorf("Expected upgrade 1 -> 3, got %d -> %d", tx.OldVersion(), tx.NewVersion())
		}
		if !tx.HasStore("notes") {
			t.Errorf("Expected notes to exist during the second upgrade")
		}
		_, err := tx.CreateStore("tags", "id")
		return err
	})
	if err != nil {
		t.Fatalf("Failed to upgrade: %v", err)
	}
	defer conn.Close()
	if calls != 2 {
		t.Errorf("Expected 2 upgrade calls, got %d", calls)
	}
	if names := conn.StoreNames(); len(names) != 2 || names[0] != "notes" || names[1] != "tags" {
		t.Errorf("Expected stores [notes tags], got %v", names)
	}
	if s := scope(t, conn, "tags", engine.ModeReadOnly); s.KeyPath() != "id" {
		t.Errorf("Expected key path id, got %s", s.KeyPath())
	}
}

func testVersionRules(t *testing.T, e engine.Engine) {
	defer e.Close()
	ctx := context.Background()

	if _, err := e.Open(ctx, "app", 0, nil); !errors.Is(err, engine.ErrInvalidVersion) {
		t.Errorf("Expected ErrInvalidVersion for version 0, got %v", err)
	}
	if _, err := e.Open(ctx, "", 1, nil); !errors.Is(err, engine.ErrInvalidName) {
		t.Errorf("Expected ErrInvalidName for an empty name, got %v", err)
	}

	conn := openWithStores(t, e, "app", 2, "notes")
	_ = conn.Close()

	if _, err := e.Open(ctx, "app", 1, nil); !errors.Is(err, engine.ErrVersion) {
		t.Errorf("Expected ErrVersion when opening a lower version, got %v", err)
	}

	// nil upgrade still bumps the version
	conn, err := e.Open(ctx, "app", 5, nil)
	if err != nil {
		t.Fatalf("Failed to open with nil upgrade: %v", err)
	}
	_ = conn.Close()
	if _, err := e.Open(ctx, "app", 4, nil); !errors.Is(err, engine.ErrVersion) {
		t.Errorf("Expected version 5 to be stored, got %v", err)
	}
}

func testUpgradeAbort(t *testing.T, e engine.Engine) {
	defer e.Close()
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := e.Open(ctx, "app", 1, func(tx engine.UpgradeTx) error {
		if _, err := tx.CreateStore("notes", "key"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, engine.ErrUpgradeAborted) || !errors.Is(err, boom) {
		t.Fatalf("Expected ErrUpgradeAborted wrapping the cause, got %v", err)
	}

	// the aborted database does not exist, so the next open upgrades from 0 again
	conn, err := e.Open(ctx, "app", 1, func(tx engine.UpgradeTx) error {
		if tx.OldVersion() != 0 {
			t.Errorf("Expected old version 0 after an aborted first upgrade, got %d", tx.OldVersion())
		}
		if tx.HasStore("notes") {
			t.Errorf("Expected the aborted store to be rolled back")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to open after abort: %v", err)
	}
	_ = conn.Close()

	// an aborted upgrade of an existing database keeps the old version and stores
	conn = openWithStores(t, e, "other", 1, "notes")
	_ = conn.Close()
	_, err = e.Open(ctx, "other", 2, func(tx engine.UpgradeTx) error {
		if _, err := tx.CreateStore("tags", "key"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, engine.ErrUpgradeAborted) {
		t.Fatalf("Expected ErrUpgradeAborted, got %v", err)
	}
	conn, err = e.Open(ctx, "other", 1, nil)
	if err != nil {
		t.Fatalf("Expected version 1 to still be valid: %v", err)
	}
	defer conn.Close()
	if names := conn.StoreNames(); len(names) != 1 || names[0] != "notes" {
		t.Errorf("Expected stores [notes] after rollback, got %v", names)
	}
}

func testAddPutGet(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureAdd|engine.FeaturePut|engine.FeatureGet)
	ctx := context.Background()

	conn := openWithStores(t, e, "app", 1, "notes")
	defer conn.Close()
	s := scope(t, conn, "notes", engine.ModeReadWrite)

	if err := s.Add(ctx, engine.Record{"key": "a", "text": "x"}); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}
	if err := s.Add(ctx, engine.Record{"key": "a", "text": "y"}); !errors.Is(err, engine.ErrKeyExists) {
		t.Errorf("Expected ErrKeyExists for a second add, got %v", err)
	}

	rec, found, err := s.Get(ctx, "a")
	if err != nil || !found {
		t.Fatalf("Expected to find a: found=%v err=%v", found, err)
	}
	if rec["text"] != "x" {
		t.Errorf("Expected text x (add must not overwrite), got %v", rec["text"])
	}

	if err := s.Put(ctx, engine.Record{"key": "a", "text": "z"}); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	rec, _, _ = s.Get(ctx, "a")
	if rec["text"] != "z" {
		t.Errorf("Expected text z after put, got %v", rec["text"])
	}

	if err := s.Put(ctx, engine.Record{"key": "b"}); err != nil {
		t.Errorf("Expected put of a new key to insert, got %v", err)
	}

	_, found, err = s.Get(ctx, "missing")
	if err != nil || found {
		t.Errorf("Expected missing key to return found=false without error, got found=%v err=%v", found, err)
	}

	if err := s.Add(ctx, engine.Record{"text": "no key"}); !errors.Is(err, engine.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for a record without key, got %v", err)
	}
	if err := s.Put(ctx, engine.Record{"key": 12}); !errors.Is(err, engine.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for a non string key, got %v", err)
	}
}

func testDeleteAndClear(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureDelete|engine.FeatureClear)
	ctx := context.Background()

	conn := openWithStores(t, e, "app", 1, "notes", "tags")
	defer conn.Close()
	notes := scope(t, conn, "notes", engine.ModeReadWrite)
	tags := scope(t, conn, "tags", engine.ModeReadWrite)

	for _, k := range []string{"a", "b", "c"} {
		if err := notes.Add(ctx, engine.Record{"key": k}); err != nil {
			t.Fatalf("Failed to add %s: %v", k, err)
		}
	}
	if err := tags.Add(ctx, engine.Record{"key": "t"}); err != nil {
		t.Fatalf("Failed to add tag: %v", err)
	}

	if err := notes.Delete(ctx, "a"); err != nil {
		t.Errorf("Failed to delete a: %v", err)
	}
	if _, found, _ := notes.Get(ctx, "a"); found {
		t.Errorf("Expected a to be deleted")
	}
	if err := notes.Delete(ctx, "missing"); err != nil {
		t.Errorf("Expected delete of a missing key to succeed, got %v", err)
	}

	if err := notes.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	all, err := notes.GetAll(ctx)
	if err != nil || len(all) != 0 {
		t.Errorf("Expected an empty store after clear, got %d records (err=%v)", len(all), err)
	}
	if _, found, _ := tags.Get(ctx, "t"); !found {
		t.Errorf("Expected clear to only affect its own store")
	}
	if err := notes.Add(ctx, engine.Record{"key": "a"}); err != nil {
		t.Errorf("Expected add after clear to succeed, got %v", err)
	}
}

func testGetAll(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureGetAll)
	ctx := context.Background()

	conn := openWithStores(t, e, "app", 1, "notes")
	defer conn.Close()
	s := scope(t, conn, "notes", engine.ModeReadWrite)

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("Failed to get all from an empty store: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Errorf("Expected a non-nil empty slice, got %#v", all)
	}

	for _, k := range []string{"c", "a", "b"} {
		if err := s.Add(ctx, engine.Record{"key": k}); err != nil {
			t.Fatalf("Failed to add %s: %v", k, err)
		}
	}
	all, err = s.GetAll(ctx)
	if err != nil {
		t.Fatalf("Failed to get all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i]["key"] != want {
			t.Errorf("Expected record %d to be %s, got %v", i, want, all[i]["key"])
		}
	}
}

func testScopes(t *testing.T, e engine.Engine) {
	defer e.Close()
	ctx := context.Background()

	conn := openWithStores(t, e, "app", 1, "notes")

	if _, err := conn.Store("missing", engine.ModeReadOnly); !errors.Is(err, engine.ErrStoreNotFound) {
		t.Errorf("Expected ErrStoreNotFound, got %v", err)
	}

	ro := scope(t, conn, "notes", engine.ModeReadOnly)
	if ro.Mode() != engine.ModeReadOnly {
		t.Errorf("Expected readonly mode, got %s", ro.Mode())
	}
	if err := ro.Add(ctx, engine.Record{"key": "a"}); !errors.Is(err, engine.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly for add, got %v", err)
	}
	if err := ro.Put(ctx, engine.Record{"key": "a"}); !errors.Is(err, engine.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly for put, got %v", err)
	}
	if err := ro.Delete(ctx, "a"); !errors.Is(err, engine.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly for delete, got %v", err)
	}
	if err := ro.Clear(ctx); !errors.Is(err, engine.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly for clear, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := ro.Get(cancelled, "a"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Expected Close to be idempotent, got %v", err)
	}
	if _, err := conn.Store("notes", engine.ModeReadOnly); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
	if _, _, err := ro.Get(ctx, "a"); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("Expected ErrClosed for a scope of a closed connection, got %v", err)
	}
}

func testUniqueIndex(t *testing.T, e engine.Engine) {
	defer e.Close()
	requireFeature(t, e, engine.FeatureIndex)
	ctx := context.Background()

	conn, err := e.Open(ctx, "app", 1, func(tx engine.UpgradeTx) error {
		b, err := tx.CreateStore("users", "key")
		if err != nil {
			return err
		}
		if err := b.CreateIndex("by_email", "email", engine.IndexOptions{Unique: true}); err != nil {
			return err
		}
		if err := b.CreateIndex("by_email", "email", engine.IndexOptions{}); !errors.Is(err, engine.ErrIndexExists) {
			t.Errorf("Expected ErrIndexExists, got %v", err)
		}
		return b.CreateIndex("by_city", "address.city", engine.IndexOptions{})
	})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer conn.Close()
	s := scope(t, conn, "users", engine.ModeReadWrite)

	if err := s.Add(ctx, engine.Record{"key": "u1", "email": "a@x", "address": map[string]any{"city": "B"}}); err != nil {
		t.Fatalf("Failed to add u1: %v", err)
	}
	if err := s.Add(ctx, engine.Record{"key": "u2", "email": "a@x"}); !errors.Is(err, engine.ErrConstraint) {
		t.Errorf("Expected ErrConstraint for a duplicate email, got %v", err)
	}
	if _, found, _ := s.Get(ctx, "u2"); found {
		t.Errorf("Expected the rejected record not to be stored")
	}
	// non-unique index allows duplicates
	if err := s.Add(ctx, engine.Record{"key": "u3", "email": "c@x", "address": map[string]any{"city": "B"}}); err != nil {
		t.Errorf("Expected a duplicate non-unique index value to be accepted, got %v", err)
	}
	// replacing a record with its own value is fine
	if err := s.Put(ctx, engine.Record{"key": "u1", "email": "a@x", "name": "new"}); err != nil {
		t.Errorf("Expected put with an unchanged unique value to succeed, got %v", err)
	}
	// moving the value frees the old one
	if err := s.Put(ctx, engine.Record{"key": "u1", "email": "b@x"}); err != nil {
		t.Fatalf("Failed to change email: %v", err)
	}
	if err := s.Add(ctx, engine.Record{"key": "u2", "email": "a@x"}); err != nil {
		t.Errorf("Expected the old email to be free after the change, got %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if err := s.Add(ctx, engine.Record{"key": "u4", "email": "b@x"}); err != nil {
		t.Errorf("Expected the email of a deleted record to be free, got %v", err)
	}
	// records without the indexed field are not indexed
	if err := s.Add(ctx, engine.Record{"key": "u5"}); err != nil {
		t.Errorf("Expected a record without email to be accepted, got %v", err)
	}
	if err := s.Add(ctx, engine.Record{"key": "u6"}); err != nil {
		t.Errorf("Expected a second record without email to be accepted, got %v", err)
	}
}

func testCopySemantics(t *testing.T, e engine.Engine) {
	defer e.Close()
	ctx := context.Background()

	conn := openWithStores(t, e, "app", 1, "notes")
	defer conn.Close()
	s := scope(t, conn, "notes", engine.ModeReadWrite)

	rec := engine.Record{"key": "a", "text": "x"}
	if err := s.Add(ctx, rec); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}
	rec["text"] = "changed by caller"

	got, _, _ := s.Get(ctx, "a")
	if got["text"] != "x" {
		t.Errorf("Expected the stored record to be independent of the caller's map, got %v", got["text"])
	}
	got["text"] = "changed after read"

	again, _, _ := s.Get(ctx, "a")
	if again["text"] != "x" {
		t.Errorf("Get should return a copy, got %v", again["text"])
	}
}

func testDatabases(t *testing.T, e engine.Engine) {
	defer e.Close()
	ctx := context.Background()

	dbs, err := e.Databases(ctx)
	if err != nil || len(dbs) != 0 {
		t.Fatalf("Expected no databases, got %v (err=%v)", dbs, err)
	}

	_ = openWithStores(t, e, "b", 2, "x", "y").Close()
	_ = openWithStores(t, e, "a", 1, "z").Close()

	dbs, err = e.Databases(ctx)
	if err != nil {
		t.Fatalf("Failed to list databases: %v", err)
	}
	if len(dbs) != 2 || dbs[0].Name != "a" || dbs[1].Name != "b" {
		t.Fatalf("Expected databases [a b], got %v", dbs)
	}
	if dbs[1].Version != 2 || len(dbs[1].Stores) != 2 {
		t.Errorf("Expected b@2 with 2 stores, got %+v", dbs[1])
	}

	if err := e.DeleteDatabase(ctx, "b"); err != nil {
		t.Fatalf("Failed to delete database: %v", err)
	}
	if err := e.DeleteDatabase(ctx, "unknown"); err != nil {
		t.Errorf("Expected deleting an unknown database to succeed, got %v", err)
	}
	dbs, _ = e.Databases(ctx)
	if len(dbs) != 1 || dbs[0].Name != "a" {
		t.Errorf("Expected only database a, got %v", dbs)
	}

	// a deleted database starts over at version 0
	conn, err := e.Open(ctx, "b", 1, func(tx engine.UpgradeTx) error {
		if tx.OldVersion() != 0 || len(tx.StoreNames()) != 0 {
			t.Errorf("Expected a fresh database, got version %d with stores %v", tx.OldVersion(), tx.StoreNames())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to recreate database: %v", err)
	}
	_ = conn.Close()

	info := e.GetInfo()
	if info.Databases != 2 {
		t.Errorf("Expected info to report 2 databases, got %d", info.Databases)
	}
}

func testConcurrentAdd(t *testing.T, e engine.Engine) {
	defer e.Close()
	ctx := context.Background()

	conn := openWithStores(t, e, "app", 1, "notes")
	defer conn.Close()

	const writers = 32
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		exists    atomic.Int32
	)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			s, err := conn.Store("notes", engine.ModeReadWrite)
			if err != nil {
				t.Errorf("Failed to begin scope: %v", err)
				return
			}
			err = s.Add(ctx, engine.Record{"key": "same", "writer": fmt.Sprint(i)})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, engine.ErrKeyExists):
				exists.Add(1)
			default:
				t.Errorf("Unexpected add error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != 1 || exists.Load() != writers-1 {
		t.Errorf("Expected exactly one successful add, got %d successes and %d ErrKeyExists", succeeded.Load(), exists.Load())
	}
}

func testSaveLoad(t *testing.T, factory EngineFactory) {
	source := factory(t)
	defer source.Close()
	requireFeature(t, source, engine.FeatureSave|engine.FeatureLoad)
	ctx := context.Background()

	saver, ok := source.(engine.Snapshotter)
	if !ok {
		t.Fatalf("Engine advertises Save/Load but does not implement engine.Snapshotter")
	}

	conn, err := source.Open(ctx, "app", 3, func(tx engine.UpgradeTx) error {
		b, err := tx.CreateStore("users", "key")
		if err != nil {
			return err
		}
		return b.CreateIndex("by_email", "email", engine.IndexOptions{Unique: true})
	})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	s := scope(t, conn, "users", engine.ModeReadWrite)
	for i := 0; i < 100; i++ {
		if err := s.Add(ctx, engine.Record{"key": fmt.Sprintf("u%03d", i), "email": fmt.Sprintf("%d@x", i)}); err != nil {
			t.Fatalf("Failed to add: %v", err)
		}
	}
	_ = conn.Close()

	var buf bytes.Buffer
	if err := saver.Save(&buf); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	target := factory(t)
	defer target.Close()
	if err := target.(engine.Snapshotter).Load(&buf); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if _, err := target.Open(ctx, "app", 2, nil); !errors.Is(err, engine.ErrVersion) {
		t.Errorf("Expected the loaded database to be at version 3, got %v", err)
	}
	conn, err = target.Open(ctx, "app", 3, nil)
	if err != nil {
		t.Fatalf("Failed to open loaded database: %v", err)
	}
	defer conn.Close()
	s = scope(t, conn, "users", engine.ModeReadWrite)

	all, err := s.GetAll(ctx)
	if err != nil || len(all) != 100 {
		t.Fatalf("Expected 100 records after load, got %d (err=%v)", len(all), err)
	}
	if all[42]["email"] != "42@x" {
		t.Errorf("Expected record u042 to keep its email, got %v", all[42]["email"])
	}
	if err := s.Add(ctx, engine.Record{"key": "dup", "email": "7@x"}); !errors.Is(err, engine.ErrConstraint) {
		t.Errorf("Expected unique index to be rebuilt after load, got %v", err)
	}
}
