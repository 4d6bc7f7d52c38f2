package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
)

// WriteFile saves the engine state zstd-compressed to path.
// The file is replaced atomically, a crash never leaves a half written snapshot.
func WriteFile(s engine.Snapshotter, path string) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := s.Save(enc); err != nil {
		_ = enc.Close()
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush zstd writer: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a snapshot written by WriteFile into the engine.
// A missing file is not an error, the engine state is left untouched and loaded is false.
func ReadFile(s engine.Snapshotter, path string) (loaded bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	if err := s.Load(dec); err != nil {
		return false, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return true, nil
}
