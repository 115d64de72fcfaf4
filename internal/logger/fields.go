package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldJobID is the analysis job ID
	FieldJobID = "job_id"

	// FieldStage is the analysis stage name
	FieldStage = "stage"

	// FieldDocumentID is the source document ID
	FieldDocumentID = "document_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
