package coordinator

import (
	"context"
	"time"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// DeleteOptions configures Delete
type DeleteOptions struct {
	Target
	Keys []string
	// OnSuccess receives one result per key, in input order
	OnSuccess func(results []DeleteResult)
	// OnError receives the error if the database or store could not be opened
	OnError func(err error)
}

// Delete removes a batch of keys. Deleting a key without a record succeeds.
func (c *Coordinator) Delete(ctx context.Context, opts DeleteOptions) ([]DeleteResult, error) {
	const op = "delete"
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

	results := make([]DeleteResult, len(opts.Keys))
	c.fanOut(ctx, len(opts.Keys), func(ctx context.Context, i int) {
		key := opts.Keys[i]
		results[i] = DeleteResult{Key: key, State: Succeeded}
		if err := deleteKey(ctx, conn, opts.StoreName, key); err != nil {
			results[i].State = Failed
			results[i].Err = subError(op, key, err)
		}
		countSubRequest(op, results[i].State)
	})
	closeConn(op, conn)

	if opts.OnSuccess != nil {
		opts.OnSuccess(results)
	}
	return results, nil
}

func deleteKey(ctx context.Context, conn engine.Conn, store, key string) error {
	if key == "" {
		return engine.ErrInvalidKey
	}
	rw, err := conn.Store(store, engine.ModeReadWrite)
	if err != nil {
		return err
	}
	return rw.Delete(ctx, key)
}
