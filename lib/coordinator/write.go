package coordinator

import (
	"context"
	"time"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// InsertOptions configures Insert
type InsertOptions struct {
	Target
	Records []engine.Record
	// Overwrite replaces present records (keeping their createdAt) instead of skipping them
	Overwrite bool
	// OnSuccess receives one result per record, in input order
	OnSuccess func(results []WriteResult)
	// OnError receives the error if the database or store could not be opened
	OnError func(err error)
}

// Insert writes a batch of records. Every record is handled independently: its current
// value is read, then
//   - an absent record is added with createdAt = updatedAt = now,
//   - a present record is replaced if Overwrite is set, keeping createdAt and moving
//     updatedAt strictly forward,
//   - a present record is left untouched otherwise (Skipped).
//
// The input records are not modified.
func (c *Coordinator) Insert(ctx context.Context, opts InsertOptions) ([]WriteResult, error) {
	const op = "insert"
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

	results := make([]WriteResult, len(opts.Records))
	c.fanOut(ctx, len(opts.Records), func(ctx context.Context, i int) {
		results[i] = c.writeRecord(ctx, conn, opts.StoreName, keyPath, opts.Records[i], opts.Overwrite)
		countSubRequest(op, results[i].State)
	})
	closeConn(op, conn)

	if opts.OnSuccess != nil {
		opts.OnSuccess(results)
	}
	return results, nil
}

// writeRecord runs the read-then-write sub-request of one record
func (c *Coordinator) writeRecord(ctx context.Context, conn engine.Conn, store, keyPath string, rec engine.Record, overwrite bool) WriteResult {
	const op = "insert"
	res := WriteResult{State: Pending}
	fail := func(err error) WriteResult {
		res.State = Failed
		res.Err = subError(op, res.Key, err)
		return res
	}

	key, err := engine.KeyOf(rec, keyPath)
	if err != nil {
		return fail(err)
	}
	res.Key = key

	ro, err := conn.Store(store, engine.ModeReadOnly)
	if err != nil {
		return fail(err)
	}
	current, found, err := ro.Get(ctx, key)
	if err != nil {
		return fail(err)
	}

	if found && !overwrite {
		res.State = Skipped
		res.Record = current
		return res
	}

	next := rec.Clone()
	rw, err := conn.Store(store, engine.ModeReadWrite)
	if err != nil {
		return fail(err)
	}

	if !found {
		now, err := c.clock.next()
		if err != nil {
			return fail(err)
		}
		next[FieldCreatedAt] = now
		next[FieldUpdatedAt] = now
		if err := rw.Add(ctx, next); err != nil {
			return fail(err)
		}
	} else {
		prevUpdated, _ := engine.ToInt64(current[FieldUpdatedAt])
		now, err := c.clock.after(prevUpdated)
		if err != nil {
			return fail(err)
		}
		next[FieldCreatedAt] = now
		if createdAt, ok := engine.ToInt64(current[FieldCreatedAt]); ok {
			next[FieldCreatedAt] = createdAt
		}
		next[FieldUpdatedAt] = now
		if err := rw.Put(ctx, next); err != nil {
			return fail(err)
		}
	}

	res.State = Succeeded
	res.Record = next
	return res
}
