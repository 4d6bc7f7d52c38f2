// Package cmd implements the command-line interface of storekit. It provides a
// hierarchical command structure to manage schemas and records of an embedded engine.
//
// The package is organized into several subpackages:
//
//   - schema: Commands to define, list and drop databases (define, list, drop, info)
//   - record: Batched record operations (put, get, all, delete, clear, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See storekit -help for a list of all commands.
package cmd
