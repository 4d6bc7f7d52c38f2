// Package snapshot writes and reads zstd-compressed engine snapshots to files.
// It works with every engine implementing engine.Snapshotter.
package snapshot
