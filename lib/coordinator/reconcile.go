package coordinator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// DefineOptions configures DefineSchemas
type DefineOptions struct {
	Schemas []Schema
	// OnResult receives the result of every declared database, in declaration order
	OnResult func(results []SchemaResult)
}

// DefineSchemas makes sure every declared store exists. Each database is opened at its
// declared version; if that triggers an upgrade, missing stores are created with their
// indexes. Databases are reconciled concurrently and independently, a failing database
// does not affect the others.
//
// Calls with an equal declaration set that overlap an in-flight reconciliation wait for
// it and share its result. OnResult is invoked exactly once per call.
func (c *Coordinator) DefineSchemas(ctx context.Context, opts DefineOptions) ([]SchemaResult, error) {
	if !c.supported {
		return nil, c.unavailable("define")
	}

	v, _, shared := c.inflight.Do(declarationKey(opts.Schemas), func() (any, error) {
		return c.reconcile(ctx, opts.Schemas), nil
	})
	if shared {
		Logger.Debugf("define: shared an in-flight reconciliation of %d databases", len(opts.Schemas))
	}

	results := cloneResults(v.([]SchemaResult))
	if opts.OnResult != nil {
		opts.OnResult(results)
	}
	return results, nil
}

func (c *Coordinator) reconcile(ctx context.Context, schemas []Schema) []SchemaResult {
	start := time.Now()
	defer observe("define", start)

	results := make([]SchemaResult, len(schemas))
	c.fanOut(ctx, len(schemas), func(ctx context.Context, i int) {
		results[i] = c.reconcileDatabase(ctx, schemas[i])
	})

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	c.ready.Store(true)
	Logger.Infof("define: reconciled %d databases (%d failed) in %s", len(results), failed, time.Since(start))
	return results
}

// reconcileDatabase opens one database at its declared version and reports every declared store
func (c *Coordinator) reconcileDatabase(ctx context.Context, s Schema) SchemaResult {
	res := SchemaResult{
		DBName:  s.DBName,
		Version: s.Version,
		Stores:  make([]StoreResult, len(s.Stores)),
	}
	for i, decl := range s.Stores {
		res.Stores[i].Name = decl.Name
	}

	conn, err := c.eng.Open(ctx, s.DBName, s.Version, func(tx engine.UpgradeTx) error {
		res.Upgraded = true
		Logger.Debugf("define: upgrading %s from version %d to %d", s.DBName, tx.OldVersion(), tx.NewVersion())
		for i, decl := range s.Stores {
			if tx.HasStore(decl.Name) {
				res.Stores[i].Existed = true
				continue
			}
			if err := createStore(tx, decl); err != nil {
				res.Stores[i].Err = err
				return err
			}
			res.Stores[i].Created = true
		}
		return nil
	})

	if err != nil {
		// the engine rolled the upgrade back, nothing of it persists
		Logger.Warningf("define: failed to open %s at version %d: %v", s.DBName, s.Version, err)
		res.Err = newError(RetCConnectionOpen, "define", "", err)
		for i := range res.Stores {
			res.Stores[i].Created = false
			if res.Stores[i].Err == nil {
				res.Stores[i].Err = res.Err
			}
		}
		return res
	}
	defer closeConn("define", conn)

	res.Success = true
	if !res.Upgraded {
		// stores can only be created by a version bump
		present := conn.StoreNames()
		for i, decl := range s.Stores {
			if slices.Contains(present, decl.Name) {
				res.Stores[i].Existed = true
				continue
			}
			res.Stores[i].Err = fmt.Errorf("%w: %s is not part of %s at version %d, declare it with a higher version",
				engine.ErrStoreNotFound, decl.Name, s.DBName, s.Version)
		}
	}
	return res
}

// cloneResults copies results down to the store slices, callers that shared a run
// each get their own copy
func cloneResults(in []SchemaResult) []SchemaResult {
	out := slices.Clone(in)
	for i := range out {
		out[i].Stores = slices.Clone(in[i].Stores)
	}
	return out
}

// createStore creates a declared store and all of its indexes
func createStore(tx engine.UpgradeTx, decl StoreDecl) error {
	b, err := tx.CreateStore(decl.Name, decl.KeyPath)
	if err != nil {
		return fmt.Errorf("create store %s: %w", decl.Name, err)
	}
	for _, idx := range decl.Indexes {
		if err := b.CreateIndex(idx.Name, idx.KeyPath, engine.IndexOptions{Unique: idx.Unique}); err != nil {
			return fmt.Errorf("create index %s on %s: %w", idx.Name, decl.Name, err)
		}
	}
	return nil
}
