package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through a call chain.
const (
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldComponent  = "component"
	FieldVideoID    = "video_id"
	FieldTaskID     = "task_id"
	FieldAssemblyID = "assembly_id"
	FieldGateway    = "gateway"
)

// Metric fields, attached per entry and used for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
