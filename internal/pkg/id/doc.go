// Package id validates producer-supplied trace IDs and mints run ingest keys.
//
// # Trace IDs
//
// Producers bring their own trace IDs; they are opaque strings correlated by
// equality, never parsed. ValidTraceID only enforces a length cap and
// printable ASCII:
//
//	if !id.ValidTraceID(traceID) {
//	    return errors.New("invalid trace ID")
//	}
//
// # Ingest Keys
//
// Ingest keys are prefixed for easy identification in logs and dashboards:
//   - swk-pub-* : public keys (identify the run)
//   - swk-sec-* : secret keys (sent by producers, stored hashed)
//
// All functions are safe for concurrent use.
package id
