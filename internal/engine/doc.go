// Package engine implements the trace correlation core: it tracks a
// logical record as stage events for it arrive from an asynchronous,
// multi-stage pipeline, tolerates out-of-order, duplicate and missing
// arrivals, finalizes each trace exactly once, and aggregates
// per-transition and end-to-end latency distributions in bounded
// memory.
//
// # Components
//
//   - Registry: sharded in-memory map of in-flight traces; the single
//     finalize point for every trace.
//   - Recorder: validates and translates incoming stage events.
//   - Sweeper: periodically finalizes traces that exceeded the stage
//     deadline.
//   - Aggregator: lock-free running statistics with histogram-based
//     percentile estimates.
//   - Engine: the facade wiring the above for one run and fanning
//     finalized outcomes out to sinks.
//
// The package carries no storage or cloud dependencies; persistence
// attaches through the OutcomeSink interface from the service layer.
// One Engine is constructed explicitly per active run.
package engine
