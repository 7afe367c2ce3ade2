// Package domain contains the core business entities and types for StageWatch.
//
// This package defines:
//   - Entity types (Run, Pipeline, StageEvent, TraceOutcome)
//   - Value objects and enums (TraceStatus, RecordResult)
//   - Report types (ReportView, StageStats, Outcomes)
//   - Input/output types for service operations
//
// # Design Philosophy
//
// Domain types are persistence-agnostic and represent the core
// business concepts independent of how they are stored or transmitted.
//
// # Key Entities
//
//   - Run: A measurement session over a configured pipeline
//   - Pipeline: The ordered stage list a run correlates against
//   - StageEvent: One arrival of a trace id at a pipeline stage
//   - TraceOutcome: The terminal record of a correlated trace
//   - ReportView: The aggregated latency and outcome report for a run
//
// # Naming Conventions
//
// Types ending in "Input" are used for create/update operations.
// Types ending in "Filter" are used for query operations.
package domain
