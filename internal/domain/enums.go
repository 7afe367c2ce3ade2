package domain

// TraceStatus represents the lifecycle state of a trace inside a run
type TraceStatus string

const (
	// TraceStatusInProgress means at least one stage arrival was recorded
	// and the trace has not reached a terminal state.
	TraceStatusInProgress TraceStatus = "in_progress"
	// TraceStatusCompleted means every configured stage arrived and the
	// trace was finalized in order.
	TraceStatusCompleted TraceStatus = "completed"
	// TraceStatusOutOfOrder means arrivals violated the configured stage
	// order at some point. The trace still completed with a full arrival
	// set; the flag is sticky.
	TraceStatusOutOfOrder TraceStatus = "out_of_order"
	// TraceStatusTimedOut means the trace was finalized by the timeout
	// sweeper before a full arrival set was recorded.
	TraceStatusTimedOut TraceStatus = "timed_out"
)

// IsValid checks if the trace status is valid
func (s TraceStatus) IsValid() bool {
	switch s {
	case TraceStatusInProgress, TraceStatusCompleted, TraceStatusOutOfOrder, TraceStatusTimedOut:
		return true
	}
	return false
}

// IsTerminal checks if the trace status is terminal
func (s TraceStatus) IsTerminal() bool {
	return s == TraceStatusCompleted || s == TraceStatusOutOfOrder || s == TraceStatusTimedOut
}

// RecordResult classifies what recording one stage arrival did to the
// trace it belongs to.
type RecordResult string

const (
	// RecordResultCreated means the arrival started tracking a new trace.
	RecordResultCreated RecordResult = "created"
	// RecordResultUpdated means the arrival extended an in-progress trace.
	RecordResultUpdated RecordResult = "updated"
	// RecordResultDuplicateArrival means the stage had already arrived for
	// this trace; the previous timestamp was kept.
	RecordResultDuplicateArrival RecordResult = "duplicate_arrival"
	// RecordResultOutOfOrderRecorded means the arrival was recorded but
	// its stage position precedes an already-recorded later stage.
	RecordResultOutOfOrderRecorded RecordResult = "out_of_order_recorded"
	// RecordResultFinalized means this arrival completed the full stage
	// set and the trace reached a terminal state.
	RecordResultFinalized RecordResult = "finalized"
)

// IsValid checks if the record result is valid
func (r RecordResult) IsValid() bool {
	switch r {
	case RecordResultCreated, RecordResultUpdated, RecordResultDuplicateArrival,
		RecordResultOutOfOrderRecorded, RecordResultFinalized:
		return true
	}
	return false
}

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusActive  RunStatus = "active"
	RunStatusStopped RunStatus = "stopped"
)

// IsValid checks if the run status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusActive, RunStatusStopped:
		return true
	}
	return false
}

// ExportFormat represents the format for report export
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// IsValid checks if the export format is valid
func (f ExportFormat) IsValid() bool {
	switch f {
	case ExportFormatJSON, ExportFormatCSV:
		return true
	}
	return false
}

// SortOrder represents the sort order for queries
type SortOrder string

const (
	SortOrderAsc  SortOrder = "ASC"
	SortOrderDesc SortOrder = "DESC"
)

// IsValid checks if the sort order is valid
func (o SortOrder) IsValid() bool {
	switch o {
	case SortOrderAsc, SortOrderDesc:
		return true
	}
	return false
}
