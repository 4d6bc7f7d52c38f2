package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// RunEngineBenchmarks runs all benchmarks for an engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory(b))
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory(b))
	})

	b.Run("GetAll", func(b *testing.B) {
		benchmarkGetAll(b, factory(b))
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkPut(b *testing.B, e engine.Engine) {
	b.Cleanup(func() {
		e.Close()
	})
	requireFeature(b, e, engine.FeaturePut)

	conn := openWithStores(b, e, "bench", 1, "items")
	defer conn.Close()
	ctx := context.Background()

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		s, err := conn.Store("items", engine.ModeReadWrite)
		if err != nil {
			b.Error(err)
			return
		}
		for pb.Next() {
			n := counter.Add(1)
			if err := s.Put(ctx, engine.Record{"key": fmt.Sprintf("k%d", n%10_000), "n": n}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkGet(b *testing.B, e engine.Engine) {
	b.Cleanup(func() {
		e.Close()
	})
	requireFeature(b, e, engine.FeatureGet|engine.FeaturePut)

	conn := openWithStores(b, e, "bench", 1, "items")
	defer conn.Close()
	ctx := context.Background()
	fill(b, conn, 1_000)

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		s, err := conn.Store("items", engine.ModeReadOnly)
		if err != nil {
			b.Error(err)
			return
		}
		for pb.Next() {
			n := counter.Add(1)
			if _, _, err := s.Get(ctx, fmt.Sprintf("k%d", n%1_000)); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkGetAll(b *testing.B, e engine.Engine) {
	b.Cleanup(func() {
		e.Close()
	})
	requireFeature(b, e, engine.FeatureGetAll|engine.FeaturePut)

	conn := openWithStores(b, e, "bench", 1, "items")
	defer conn.Close()
	ctx := context.Background()
	fill(b, conn, 1_000)

	s := scope(b, conn, "items", engine.ModeReadOnly)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.GetAll(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSaveLoad(b *testing.B, factory EngineFactory) {
	e := factory(b)
	b.Cleanup(func() {
		e.Close()
	})
	requireFeature(b, e, engine.FeatureSave|engine.FeatureLoad)
	snap := e.(engine.Snapshotter)

	conn := openWithStores(b, e, "bench", 1, "items")
	fill(b, conn, 10_000)
	_ = conn.Close()

	var buf bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := snap.Save(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		data := buf.Bytes()
		for i := 0; i < b.N; i++ {
			if err := snap.Load(bytes.NewReader(data)); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func fill(b *testing.B, conn engine.Conn, n int) {
	b.Helper()
	s := scope(b, conn, "items", engine.ModeReadWrite)
	for i := 0; i < n; i++ {
		rec := engine.Record{"key": fmt.Sprintf("k%d", i), "text": "benchmark record", "n": i}
		if err := s.Put(context.Background(), rec); err != nil {
			b.Fatal(err)
		}
	}
}
