// Package trace records what the specializer decided and how long it took.
//
// Tracing is enabled from the command line:
//
//	genspec specialize --trace=- --trace-level=detail module.yaml
//
// # Tracers
//
//   - Nop: discards everything, used when tracing is off
//   - StreamTracer: writes each event as it happens (text or NDJSON)
//   - RingTracer: keeps the last N events for an internal-error dump
//   - MultiTracer: fans events out to several tracers
//
// # Levels
//
//   - LevelOff: nothing
//   - LevelError: nothing is streamed, the ring is dumped on internal errors
//   - LevelPhase: driver and round boundaries
//   - LevelDetail: per-function spans
//   - LevelDebug: per-call-site decisions
//
// # Scopes
//
//   - ScopeDriver: one specializer run
//   - ScopePass: one specialization round
//   - ScopeFunction: one caller whose call sites are rewritten
//   - ScopeSite: one call site decision
//
// The tracer travels in the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "round", 0)
//	defer span.End("")
package trace
