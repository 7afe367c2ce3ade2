// Package repository contains the data access implementations for
// StageWatch, split by backing store.
//
// The stores divide along the control/data plane line:
//   - PostgreSQL (postgres/): runs, ingest keys and the audit log
//   - ClickHouse (clickhouse/): finalized trace outcomes and report
//     snapshots, written in batches and queried for reports
//
// Repository interfaces are declared where they are consumed, in the
// service and worker packages; this package provides the concrete types.
// All implementations are safe for concurrent use, with pooling handled
// by the database layer underneath.
package repository
