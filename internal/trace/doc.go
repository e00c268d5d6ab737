// Package trace records what an assembly run does and when.
//
// It is the diagnostic channel of stitch: the fragment store reports
// allocations, combine steps and removals, and the pipeline brackets every
// stage with a span.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	stitch assemble --trace=- --trace-level=detail plan.toml
//
// # Tracers
//
//   - Nop: zero-overhead tracer used when tracing is disabled
//   - StreamTracer: writes every event immediately (file or stderr)
//   - RingTracer: keeps the last N events for a post-mortem dump
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// LevelPhase emits driver and run boundaries, LevelDetail adds per-fragment
// events, LevelDebug emits everything.
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeRun, "combine", parentID)
//	defer span.End("")
package trace
