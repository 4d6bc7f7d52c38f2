// Package testing provides a conformance test suite and benchmarks for
// implementations of the engine.Engine interface.
//
// Every engine runs the same suite, so the coordinator can rely on identical
// semantics for versions, upgrades, scopes and unique indexes regardless of the backend.
//
// Example usage:
//
//	factory := func(t testing.TB) engine.Engine {
//		return NewMyEngine()
//	}
//
//	enginetesting.RunEngineTests(t, "MyEngine", factory)
//	enginetesting.RunEngineBenchmarks(b, "MyEngine", factory)
package testing
