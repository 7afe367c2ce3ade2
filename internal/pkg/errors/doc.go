// Package errors defines the application error type shared by the service,
// repository and handler layers.
//
// An AppError pairs a stable machine-readable code with the HTTP status the
// handler layer should answer with, so services never import fiber and
// handlers never parse error strings:
//
//	return apperrors.NotFound("run")
//	return apperrors.RunStopped(runID.String())
//
// Callers branch on codes with the Is helpers:
//
//	if apperrors.IsConflict(err) {
//	    // surface as 409
//	}
//
// AppErrors survive wrapping with fmt.Errorf("...: %w", err); GetAppError
// walks the chain. Per-event ingest anomalies (unknown stage, late arrival)
// are not AppErrors: they are reported in batch results and counted, never
// raised, since a bad event must not fail its batch.
package errors
