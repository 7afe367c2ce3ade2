package domain

// OTLP-shaped JSON ingest types. StageWatch accepts span exports on the
// standard /v1/traces path and maps each span to one stage arrival:
// span name (or the stagewatch.stage attribute) is the stage, the span
// end timestamp is the arrival time, and the span's traceId is the
// trace id. Only the fields needed for that mapping are modeled.

// OTelSpan represents an OpenTelemetry span as received over OTLP/HTTP JSON
type OTelSpan struct {
	TraceID           string         `json:"traceId"`
	SpanID            string         `json:"spanId"`
	ParentSpanID      string         `json:"parentSpanId,omitempty"`
	Name              string         `json:"name"`
	Kind              int            `json:"kind,omitempty"`
	StartTimeUnixNano int64          `json:"startTimeUnixNano"`
	EndTimeUnixNano   int64          `json:"endTimeUnixNano"`
	Attributes        []OTelKeyValue `json:"attributes,omitempty"`
}

// OTelKeyValue represents an OTLP attribute
type OTelKeyValue struct {
	Key   string       `json:"key"`
	Value OTelAnyValue `json:"value"`
}

// OTelAnyValue represents an OTLP attribute value
type OTelAnyValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
}

// OTelResource represents resource information
type OTelResource struct {
	Attributes []OTelKeyValue `json:"attributes,omitempty"`
}

// OTelScope represents instrumentation scope
type OTelScope struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// OTelScopeSpans represents spans grouped by scope
type OTelScopeSpans struct {
	Scope OTelScope  `json:"scope"`
	Spans []OTelSpan `json:"spans"`
}

// OTelResourceSpans represents spans grouped by resource
type OTelResourceSpans struct {
	Resource   OTelResource     `json:"resource"`
	ScopeSpans []OTelScopeSpans `json:"scopeSpans"`
}

// OTelExportRequest represents an OTLP trace export request
type OTelExportRequest struct {
	ResourceSpans []OTelResourceSpans `json:"resourceSpans"`
}

// OTelExportResponse represents an OTLP trace export response
type OTelExportResponse struct {
	PartialSuccess *OTelExportPartialSuccess `json:"partialSuccess,omitempty"`
}

// OTelExportPartialSuccess represents partial success info
type OTelExportPartialSuccess struct {
	RejectedSpans int64  `json:"rejectedSpans"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// StageWatch attribute keys recognized on spans and resources
const (
	// OTelAttrRunID carries the target run id when it is not supplied
	// via the X-Run-ID header.
	OTelAttrRunID = "stagewatch.run.id"
	// OTelAttrStage overrides the span name as the stage name.
	OTelAttrStage = "stagewatch.stage"

	// Service attributes
	OTelAttrServiceName = "service.name"
)
