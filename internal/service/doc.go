// Package service contains the business logic layer for StageWatch.
//
// Services coordinate between handlers and repositories, implementing
// domain rules and orchestrating operations across multiple repositories.
// The run service additionally owns the in-memory correlation engines:
// one engine per active run, constructed when the run is created (or
// rebuilt at startup) and torn down when the run stops.
//
// Services depend on repository interfaces defined in this package,
// following the dependency inversion principle.
//
// # Thread Safety
//
// All services are designed to be safe for concurrent use from
// multiple goroutines.
package service
