package coordinator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/ValentinKolb/storekit/lib/engine/codec"
	"github.com/ValentinKolb/storekit/lib/engine/engines/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Insert
// --------------------------------------------------------------------------

func TestInsertScenario(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng engine.Engine) {
		c := setupNotes(t, eng, &Options{Now: fixedNow(1_700_000_000_000)})
		ctx := context.Background()

		var got []WriteResult
		calls := 0
		results, err := c.Insert(ctx, InsertOptions{
			Target:    notes,
			Records:   []engine.Record{{"key": "a", "text": "x"}},
			OnSuccess: func(r []WriteResult) { calls++; got = r },
			OnError:   func(err error) { t.Errorf("unexpected error callback: %v", err) },
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, results, got)
		require.Len(t, results, 1)
		assert.Equal(t, "a", results[0].Key)
		assert.Equal(t, Succeeded, results[0].State)
		assert.NoError(t, results[0].Err)

		created := ts(t, results[0].Record, FieldCreatedAt)
		assert.Equal(t, int64(1_700_000_000_000), created)
		assert.Equal(t, created, ts(t, results[0].Record, FieldUpdatedAt))

		// the stored record carries the same timestamps
		read, err := c.Get(ctx, GetOptions{Target: notes, Keys: []string{"a"}})
		require.NoError(t, err)
		require.True(t, read[0].Found)
		assert.Equal(t, "x", read[0].Record["text"])
		assert.Equal(t, created, ts(t, read[0].Record, FieldCreatedAt))
		assert.Equal(t, created, ts(t, read[0].Record, FieldUpdatedAt))

		// same key again without overwrite: skipped, nothing written
		again, err := c.Insert(ctx, InsertOptions{
			Target:  notes,
			Records: []engine.Record{{"key": "a", "text": "changed"}},
		})
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, Skipped, again[0].State)
		assert.Equal(t, "x", again[0].Record["text"])

		read, err = c.Get(ctx, GetOptions{Target: notes, Keys: []string{"a"}})
		require.NoError(t, err)
		assert.Equal(t, "x", read[0].Record["text"])
		assert.Equal(t, created, ts(t, read[0].Record, FieldUpdatedAt))
	})
}

func TestInsertOverwritePreservesCreatedAt(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng engine.Engine) {
		// a frozen clock still has to move updatedAt forward
		c := setupNotes(t, eng, &Options{Now: fixedNow(5_000)})
		ctx := context.Background()

		first, err := c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a", "text": "x"}}})
		require.NoError(t, err)
		createdAt := ts(t, first[0].Record, FieldCreatedAt)
		updatedAt := ts(t, first[0].Record, FieldUpdatedAt)

		second, err := c.Insert(ctx, InsertOptions{
			Target:    notes,
			Records:   []engine.Record{{"key": "a", "text": "y", FieldCreatedAt: int64(1)}},
			Overwrite: true,
		})
		require.NoError(t, err)
		require.Equal(t, Succeeded, second[0].State)

		read, err := c.Get(ctx, GetOptions{Target: notes, Keys: []string{"a"}})
		require.NoError(t, err)
		rec := read[0].Record
		assert.Equal(t, "y", rec["text"])
		assert.Equal(t, createdAt, ts(t, rec, FieldCreatedAt), "createdAt must survive an overwrite")
		assert.Greater(t, ts(t, rec, FieldUpdatedAt), updatedAt, "updatedAt must strictly increase")
	})
}

func TestInsertOverwriteOfFutureRecord(t *testing.T) {
	eng := memory.NewMemoryEngine(nil)
	ctx := context.Background()

	// a record written by a clock far ahead of ours
	ahead := setupNotes(t, eng, &Options{Now: fixedNow(9_000_000)})
	_, err := ahead.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a"}}})
	require.NoError(t, err)

	behind := New(eng, &Options{Now: fixedNow(1_000)})
	res, err := behind.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a"}}, Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, int64(9_000_000), ts(t, res[0].Record, FieldCreatedAt))
	assert.Equal(t, int64(9_000_001), ts(t, res[0].Record, FieldUpdatedAt))
}

func TestInsertOverwriteWithoutLaterTimestamp(t *testing.T) {
	for name, opts := range map[string]*memory.Options{
		"json": nil,
		"gob":  {Codec: codec.NewGOBCodec()},
	} {
		t.Run(name, func(t *testing.T) {
			eng := memory.NewMemoryEngine(opts)
			ctx := context.Background()
			c := setupNotes(t, eng, &Options{Now: fixedNow(1_000)})

			// written around the coordinator, e.g. restored from a snapshot
			conn, err := eng.Open(ctx, "app", 1, rejectUpgrade)
			require.NoError(t, err)
			rw, err := conn.Store("notes", engine.ModeReadWrite)
			require.NoError(t, err)
			require.NoError(t, rw.Put(ctx, engine.Record{"key": "max", FieldCreatedAt: int64(1), FieldUpdatedAt: int64(math.MaxInt64)}))
			require.NoError(t, conn.Close())

			res, err := c.Insert(ctx, InsertOptions{
				Target:    notes,
				Records:   []engine.Record{{"key": "max"}, {"key": "other"}},
				Overwrite: true,
			})
			require.NoError(t, err)
			require.Len(t, res, 2)
			assert.Equal(t, Failed, res[0].State)
			assert.ErrorIs(t, res[0].Err, ErrTimestampExhausted)
			assert.Equal(t, Succeeded, res[1].State)
		})
	}
}

func TestInsertDoesNotModifyInput(t *testing.T) {
	c := setupNotes(t, memory.NewMemoryEngine(nil), nil)
	input := engine.Record{"key": "a", "tags": []any{"x"}}

	res, err := c.Insert(context.Background(), InsertOptions{Target: notes, Records: []engine.Record{input}})
	require.NoError(t, err)
	require.Equal(t, Succeeded, res[0].State)

	assert.NotContains(t, input, FieldCreatedAt)
	assert.NotContains(t, input, FieldUpdatedAt)
	res[0].Record["tags"].([]any)[0] = "changed"
	assert.Equal(t, "x", input["tags"].([]any)[0])
}

func TestInsertInvalidKeys(t *testing.T) {
	c := setupNotes(t, memory.NewMemoryEngine(nil), nil)

	res, err := c.Insert(context.Background(), InsertOptions{
		Target: notes,
		Records: []engine.Record{
			{"key": "ok"},
			{"text": "no key"},
			{"key": 42},
			{"key": ""},
		},
	})
	require.NoError(t, err)
	require.Len(t, res, 4)
	assert.Equal(t, Succeeded, res[0].State)
	for _, r := range res[1:] {
		assert.Equal(t, Failed, r.State)
		assert.ErrorIs(t, r.Err, engine.ErrInvalidKey)
		assert.Equal(t, RetCSubRequest, CodeOf(r.Err))
	}
}

func TestInsertNestedKeyPath(t *testing.T) {
	c := New(memory.NewMemoryEngine(nil), nil)
	ctx := context.Background()
	_, err := c.DefineSchemas(ctx, DefineOptions{Schemas: []Schema{{
		DBName: "crm", Version: 1,
		Stores: []StoreDecl{{Name: "deals", KeyPath: "meta.id"}},
	}}})
	require.NoError(t, err)

	deals := Target{DBName: "crm", Version: 1, StoreName: "deals"}
	res, err := c.Insert(ctx, InsertOptions{Target: deals, Records: []engine.Record{
		{"meta": map[string]any{"id": "d1"}, "value": 10},
	}})
	require.NoError(t, err)
	assert.Equal(t, "d1", res[0].Key)
	assert.Equal(t, Succeeded, res[0].State)

	all, err := c.GetAll(ctx, GetAllOptions{Target: deals})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "d1", all[0].Key)
}

func TestInsertUniqueIndexViolation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng engine.Engine) {
		c := New(eng, nil)
		ctx := context.Background()
		_, err := c.DefineSchemas(ctx, DefineOptions{Schemas: []Schema{{
			DBName: "crm", Version: 1,
			Stores: []StoreDecl{{Name: "contacts", KeyPath: "key", Indexes: []IndexDecl{
				{Name: "by_email", KeyPath: "email", Unique: true},
			}}},
		}}})
		require.NoError(t, err)

		contacts := Target{DBName: "crm", Version: 1, StoreName: "contacts"}
		_, err = c.Insert(ctx, InsertOptions{Target: contacts, Records: []engine.Record{{"key": "c1", "email": "a@x"}}})
		require.NoError(t, err)

		res, err := c.Insert(ctx, InsertOptions{Target: contacts, Records: []engine.Record{
			{"key": "c2", "email": "a@x"},
			{"key": "c3", "email": "b@x"},
		}})
		require.NoError(t, err)
		assert.Equal(t, Failed, res[0].State)
		assert.ErrorIs(t, res[0].Err, engine.ErrConstraint)
		assert.Equal(t, Succeeded, res[1].State)
	})
}

func TestInsertConcurrentWritersOfOneKey(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng engine.Engine) {
		c := setupNotes(t, eng, nil)

		const writers = 16
		var (
			wg     sync.WaitGroup
			states = make([]State, writers)
		)
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				defer wg.Done()
				res, err := c.Insert(context.Background(), InsertOptions{
					Target:  notes,
					Records: []engine.Record{{"key": "same", "writer": i}},
				})
				assert.NoError(t, err)
				states[i] = res[0].State
				if res[0].State == Failed {
					assert.ErrorIs(t, res[0].Err, engine.ErrKeyExists)
				}
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, s := range states {
			assert.True(t, s.Terminal())
			if s == Succeeded {
				succeeded++
			}
		}
		assert.Equal(t, 1, succeeded, "exactly one writer may add a new key")
	})
}

// --------------------------------------------------------------------------
// Exactly-once and fan-out
// --------------------------------------------------------------------------

func TestLargeBatchCompletesExactlyOnce(t *testing.T) {
	for _, limit := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			c := setupNotes(t, memory.NewMemoryEngine(nil), &Options{MaxConcurrency: limit})
			ctx := context.Background()

			const n = 200
			records := make([]engine.Record, n)
			keys := make([]string, n)
			for i := range records {
				keys[i] = fmt.Sprintf("k%03d", i)
				records[i] = engine.Record{"key": keys[i], "n": i}
			}

			var calls atomic.Int32
			res, err := c.Insert(ctx, InsertOptions{
				Target:    notes,
				Records:   records,
				OnSuccess: func([]WriteResult) { calls.Add(1) },
			})
			require.NoError(t, err)
			assert.Equal(t, int32(1), calls.Load())
			require.Len(t, res, n)
			for i, r := range res {
				assert.Equal(t, keys[i], r.Key, "results keep input order")
				assert.Equal(t, Succeeded, r.State)
			}

			calls.Store(0)
			read, err := c.Get(ctx, GetOptions{
				Target:   notes,
				Keys:     append(keys, "missing"),
				OnResult: func([]GetResult) { calls.Add(1) },
			})
			require.NoError(t, err)
			assert.Equal(t, int32(1), calls.Load())
			require.Len(t, read, n+1)
			for _, r := range read[:n] {
				assert.True(t, r.Found)
				assert.True(t, r.State.Terminal())
			}
			assert.Equal(t, GetResult{Key: "missing", State: Succeeded}, read[n])

			calls.Store(0)
			deleted, err := c.Delete(ctx, DeleteOptions{
				Target:    notes,
				Keys:      keys,
				OnSuccess: func([]DeleteResult) { calls.Add(1) },
			})
			require.NoError(t, err)
			assert.Equal(t, int32(1), calls.Load())
			assert.Len(t, deleted, n)
		})
	}
}

func TestConnectionClosedBeforeCallback(t *testing.T) {
	eng := &countingEngine{Engine: memory.NewMemoryEngine(nil)}
	c := setupNotes(t, eng, nil)
	ctx := context.Background()

	closedAtCallback := func() bool {
		conns := eng.connections()
		last := conns[len(conns)-1]
		return last.closes.Load() == 1
	}

	_, err := c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a"}},
		OnSuccess: func([]WriteResult) { assert.True(t, closedAtCallback()) }})
	require.NoError(t, err)
	_, err = c.Get(ctx, GetOptions{Target: notes, Keys: []string{"a"},
		OnResult: func([]GetResult) { assert.True(t, closedAtCallback()) }})
	require.NoError(t, err)
	_, err = c.GetAll(ctx, GetAllOptions{Target: notes,
		OnResult: func([]GetResult) { assert.True(t, closedAtCallback()) }})
	require.NoError(t, err)
	_, err = c.Delete(ctx, DeleteOptions{Target: notes, Keys: []string{"a"},
		OnSuccess: func([]DeleteResult) { assert.True(t, closedAtCallback()) }})
	require.NoError(t, err)
	err = c.Clear(ctx, ClearOptions{Target: notes,
		OnSuccess: func() { assert.True(t, closedAtCallback()) }})
	require.NoError(t, err)

	for i, conn := range eng.connections() {
		assert.Equal(t, int32(1), conn.closes.Load(), "connection %d must be closed exactly once", i)
	}
}

// --------------------------------------------------------------------------
// Open failures
// --------------------------------------------------------------------------

func TestOpenFailureGoesToErrorCallback(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng engine.Engine) {
		c := setupNotes(t, eng, nil)
		ctx := context.Background()

		cases := map[string]struct {
			target Target
			cause  error
		}{
			"missing store":     {Target{DBName: "app", Version: 1, StoreName: "nope"}, engine.ErrStoreNotFound},
			"undefined version": {Target{DBName: "app", Version: 7, StoreName: "notes"}, ErrSchemaNotDefined},
			"unknown database":  {Target{DBName: "other", Version: 1, StoreName: "notes"}, ErrSchemaNotDefined},
			"lower version":     {Target{DBName: "app", Version: 0, StoreName: "notes"}, engine.ErrInvalidVersion},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				var errs []error
				onErr := func(err error) { errs = append(errs, err) }

				res, err := c.Insert(ctx, InsertOptions{Target: tc.target, Records: []engine.Record{{"key": "a"}},
					OnSuccess: func([]WriteResult) { t.Errorf("success callback after open failure") }, OnError: onErr})
				assert.Nil(t, res)
				assert.ErrorIs(t, err, tc.cause)
				assert.Equal(t, RetCConnectionOpen, CodeOf(err))

				_, err = c.Delete(ctx, DeleteOptions{Target: tc.target, Keys: []string{"a"}, OnError: onErr})
				assert.ErrorIs(t, err, tc.cause)
				_, err = c.Get(ctx, GetOptions{Target: tc.target, Keys: []string{"a"}, OnError: onErr})
				assert.ErrorIs(t, err, tc.cause)
				_, err = c.GetAll(ctx, GetAllOptions{Target: tc.target, OnError: onErr})
				assert.ErrorIs(t, err, tc.cause)
				err = c.Clear(ctx, ClearOptions{Target: tc.target, OnError: onErr})
				assert.ErrorIs(t, err, tc.cause)

				require.Len(t, errs, 5, "one error callback per operation")
				for _, e := range errs {
					assert.ErrorIs(t, e, tc.cause)
				}
			})
		}

		// record operations never create databases
		dbs, err := eng.Databases(ctx)
		require.NoError(t, err)
		require.Len(t, dbs, 1)
		assert.Equal(t, uint64(1), dbs[0].Version)
	})
}

func TestCancelledContext(t *testing.T) {
	c := setupNotes(t, memory.NewMemoryEngine(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := 0
	_, err := c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a"}},
		OnError: func(error) { called++ }})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, called)
}

// --------------------------------------------------------------------------
// Sub-request failures
// --------------------------------------------------------------------------

func TestSubRequestFailuresAreIsolated(t *testing.T) {
	base := memory.NewMemoryEngine(nil)
	setupNotes(t, base, nil)
	c := New(&faultyEngine{Engine: base}, nil)
	ctx := context.Background()

	_, err := c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "bad-put"}}})
	require.NoError(t, err)

	res, err := c.Insert(ctx, InsertOptions{
		Target: notes,
		Records: []engine.Record{
			{"key": "good"},
			{"key": "bad"},
			{"key": "bad-put"},
		},
		Overwrite: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res[0].State)
	assert.Equal(t, Failed, res[1].State)
	assert.ErrorIs(t, res[1].Err, errInjected)
	assert.Equal(t, Failed, res[2].State)
	assert.ErrorIs(t, res[2].Err, errInjected)
	assert.Equal(t, "bad-put", res[2].Key)

	read, err := c.Get(ctx, GetOptions{Target: notes, Keys: []string{"good", "bad"}})
	require.NoError(t, err)
	assert.Equal(t, Succeeded, read[0].State)
	assert.True(t, read[0].Found)
	assert.Equal(t, Failed, read[1].State)
	assert.False(t, read[1].Found)
	assert.Equal(t, RetCSubRequest, CodeOf(read[1].Err))
}

func TestGetAllFailureIsDistinguishableFromEmpty(t *testing.T) {
	base := memory.NewMemoryEngine(nil)
	setupNotes(t, base, nil)
	ctx := context.Background()

	// empty store: result callback with an empty list
	healthy := New(base, nil)
	var (
		resultCalls int
		got         []GetResult
	)
	res, err := healthy.GetAll(ctx, GetAllOptions{
		Target:   notes,
		OnResult: func(r []GetResult) { resultCalls++; got = r },
		OnError:  func(err error) { t.Errorf("unexpected error callback: %v", err) },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resultCalls)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NotNil(t, res)

	// failed read: error callback
	faulty := New(&faultyEngine{Engine: base}, nil)
	var errCalls int
	res, err = faulty.GetAll(ctx, GetAllOptions{
		Target:   notes,
		OnResult: func([]GetResult) { t.Errorf("result callback after a failed read") },
		OnError:  func(error) { errCalls++ },
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 1, errCalls)
}

// --------------------------------------------------------------------------
// Delete, GetAll, Clear
// --------------------------------------------------------------------------

func TestGetAllReportsRecordsWithoutKey(t *testing.T) {
	eng := keylessEngine{Engine: memory.NewMemoryEngine(nil)}
	c := setupNotes(t, eng, nil)
	ctx := context.Background()

	_, err := c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a"}}})
	require.NoError(t, err)

	res, err := c.GetAll(ctx, GetAllOptions{Target: notes})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].Key)
	assert.Equal(t, Succeeded, res[0].State)

	assert.Equal(t, Failed, res[1].State)
	assert.Empty(t, res[1].Key)
	assert.ErrorIs(t, res[1].Err, engine.ErrInvalidKey)
	assert.Equal(t, RetCSubRequest, CodeOf(res[1].Err))
	assert.Equal(t, "orphan", res[1].Record["text"])
}

func TestDeleteScenario(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng engine.Engine) {
		c := setupNotes(t, eng, nil)
		ctx := context.Background()
		_, err := c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{{"key": "a", "text": "x"}}})
		require.NoError(t, err)

		calls := 0
		res, err := c.Delete(ctx, DeleteOptions{
			Target:    notes,
			Keys:      []string{"a", "missing", ""},
			OnSuccess: func([]DeleteResult) { calls++ },
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		require.Len(t, res, 3)
		assert.Equal(t, DeleteResult{Key: "a", State: Succeeded}, res[0])
		assert.Equal(t, DeleteResult{Key: "missing", State: Succeeded}, res[1])
		assert.Equal(t, Failed, res[2].State)
		assert.ErrorIs(t, res[2].Err, engine.ErrInvalidKey)

		read, err := c.Get(ctx, GetOptions{Target: notes, Keys: []string{"a"}})
		require.NoError(t, err)
		assert.False(t, read[0].Found)
	})
}

func TestGetAllAndClear(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng engine.Engine) {
		c := setupNotes(t, eng, nil)
		ctx := context.Background()

		empty, err := c.GetAll(ctx, GetAllOptions{Target: notes})
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)

		_, err = c.Insert(ctx, InsertOptions{Target: notes, Records: []engine.Record{
			{"key": "c"}, {"key": "a"}, {"key": "b"},
		}})
		require.NoError(t, err)

		all, err := c.GetAll(ctx, GetAllOptions{Target: notes})
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i, key := range []string{"a", "b", "c"} {
			assert.Equal(t, key, all[i].Key)
			assert.Equal(t, Succeeded, all[i].State)
			assert.True(t, all[i].Found)
		}

		cleared := 0
		err = c.Clear(ctx, ClearOptions{
			Target:    notes,
			OnSuccess: func() { cleared++ },
			OnError:   func(err error) { t.Errorf("unexpected error callback: %v", err) },
		})
		require.NoError(t, err)
		assert.Equal(t, 1, cleared)

		all, err = c.GetAll(ctx, GetAllOptions{Target: notes})
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestClearFailure(t *testing.T) {
	base := memory.NewMemoryEngine(nil)
	setupNotes(t, base, nil)
	c := New(&faultyEngine{Engine: base}, nil)

	errs := 0
	err := c.Clear(context.Background(), ClearOptions{
		Target:    notes,
		OnSuccess: func() { t.Errorf("success callback after a failed clear") },
		OnError:   func(error) { errs++ },
	})
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, RetCSubRequest, CodeOf(err))
	assert.Equal(t, 1, errs)
}
