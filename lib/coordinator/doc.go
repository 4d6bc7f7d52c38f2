/*
Package coordinator implements the storekit convenience layer over an engine.Engine.

A Coordinator reconciles declared schemas (databases at a version with their stores and
indexes) and runs batched record operations on them:

	c := coordinator.New(eng, &coordinator.Options{MaxConcurrency: 16})
	setup := c.Setup(ctx, []coordinator.Schema{{
		DBName:  "app",
		Version: 1,
		Stores:  []coordinator.StoreDecl{{Name: "notes", KeyPath: "key"}},
	}})

	target := coordinator.Target{DBName: "app", Version: 1, StoreName: "notes"}
	results, err := c.Insert(ctx, coordinator.InsertOptions{
		Target:  target,
		Records: []engine.Record{{"key": "a", "text": "x"}},
	})

Every operation opens its own connection, issues one sub-request per key on its own
goroutine and joins them before it returns. Each key ends in exactly one terminal
State; the success or error callback of a call fires exactly once, after the connection
was closed. Operations also return their results, callbacks are optional.

If the database or the store cannot be opened, the error callback receives a *Error with
RetCConnectionOpen and no per-key results exist. Failures of single keys are recorded in
their result (RetCSubRequest) and do not affect their siblings. A coordinator without a
usable engine logs a diagnostic and returns ErrUnavailable from every operation without
invoking callbacks.

Record operations never change structure: a target version that was never reconciled
fails with ErrSchemaNotDefined instead of creating an empty database.
*/
package coordinator
