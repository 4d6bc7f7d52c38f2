package coordinator

import (
	"context"
	"time"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// --------------------------------------------------------------------------
// Get
// --------------------------------------------------------------------------

// GetOptions configures Get
type GetOptions struct {
	Target
	Keys []string
	// OnResult receives one result per key, in input order
	OnResult func(results []GetResult)
	// OnError receives the error if the database or store could not be opened
	OnError func(err error)
}

// Get reads a batch of keys. A key without a record is Succeeded with Found=false.
func (c *Coordinator) Get(ctx context.Context, opts GetOptions) ([]GetResult, error) {
	const op = "get"
	if !c.supported {
		return nil, c.unavailable(op)
	}
	defer observe(op, time.Now())

	conn, _, err := c.connect(ctx, op, opts.Target)
	if err != nil {
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return nil, err
	}

	results := make([]GetResult, len(opts.Keys))
	c.fanOut(ctx, len(opts.Keys), func(ctx context.Context, i int) {
		key := opts.Keys[i]
		rec, found, err := getKey(ctx, conn, opts.StoreName, key)
		if err != nil {
			results[i] = GetResult{Key: key, State: Failed, Err: subError(op, key, err)}
		} else {
			results[i] = GetResult{Key: key, State: Succeeded, Found: found, Record: rec}
		}
		countSubRequest(op, results[i].State)
	})
	closeConn(op, conn)

	if opts.OnResult != nil {
		opts.OnResult(results)
	}
	return results, nil
}

func getKey(ctx context.Context, conn engine.Conn, store, key string) (engine.Record, bool, error) {
	if key == "" {
		return nil, false, engine.ErrInvalidKey
	}
	ro, err := conn.Store(store, engine.ModeReadOnly)
	if err != nil {
		return nil, false, err
	}
	return ro.Get(ctx, key)
}

// --------------------------------------------------------------------------
// GetAll
// --------------------------------------------------------------------------

// GetAllOptions configures GetAll
type GetAllOptions struct {
	Target
	// OnResult receives one result per record sorted by key (empty, not nil, for an empty store).
	// A stored record without a valid key is reported as Failed.
	OnResult func(results []GetResult)
	// OnError receives the error if the store could not be opened or read
	OnError func(err error)
}

// GetAll reads every record of a store with a single request. A failed read is
// reported through OnError, an empty store through OnResult with an empty slice.
func (c *Coordinator) GetAll(ctx context.Context, opts GetAllOptions) ([]GetResult, error) {
	const op = "getall"
	if !c.supported {
		return nil, c.unavailable(op)
	}
	defer observe(op, time.Now())

	conn, keyPath, err := c.connect(ctx, op, opts.Target)
	if err != nil {
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return nil, err
	}

	recs, err := readAll(ctx, conn, opts.StoreName)
	closeConn(op, conn)
	if err != nil {
		err = newError(RetCSubRequest, op, "", err)
		Logger.Warningf("%s: failed to read %s: %v", op, opts.Target, err)
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return nil, err
	}

	results := make([]GetResult, len(recs))
	for i, rec := range recs {
		key, err := engine.KeyOf(rec, keyPath)
		if err != nil {
			Logger.Warningf("%s: record %d of %s has no valid key: %v", op, i, opts.Target, err)
			results[i] = GetResult{State: Failed, Found: true, Record: rec, Err: subError(op, "", err)}
			continue
		}
		results[i] = GetResult{Key: key, State: Succeeded, Found: true, Record: rec}
	}

	if opts.OnResult != nil {
		opts.OnResult(results)
	}
	return results, nil
}

func readAll(ctx context.Context, conn engine.Conn, store string) ([]engine.Record, error) {
	ro, err := conn.Store(store, engine.ModeReadOnly)
	if err != nil {
		return nil, err
	}
	return ro.GetAll(ctx)
}

// --------------------------------------------------------------------------
// Clear
// --------------------------------------------------------------------------

// ClearOptions configures Clear
type ClearOptions struct {
	Target
	OnSuccess func()
	OnError   func(err error)
}

// Clear removes every record of a store
func (c *Coordinator) Clear(ctx context.Context, opts ClearOptions) error {
	const op = "clear"
	if !c.supported {
		return c.unavailable(op)
	}
	defer observe(op, time.Now())

	conn, _, err := c.connect(ctx, op, opts.Target)
	if err != nil {
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return err
	}

	err = clearStore(ctx, conn, opts.StoreName)
	closeConn(op, conn)
	if err != nil {
		err = newError(RetCSubRequest, op, "", err)
		Logger.Warningf("%s: failed to clear %s: %v", op, opts.Target, err)
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return err
	}

	if opts.OnSuccess != nil {
		opts.OnSuccess()
	}
	return nil
}

func clearStore(ctx context.Context, conn engine.Conn, store string) error {
	rw, err := conn.Store(store, engine.ModeReadWrite)
	if err != nil {
		return err
	}
	return rw.Clear(ctx)
}
