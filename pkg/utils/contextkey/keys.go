package contextkey

type key string

// Request-scoped ids. The trace middleware sets them and the logger and
// event producer read them.
const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
	TaskID    key = "task_id"
	VersionID key = "version_id"
)
