package errors

// ErrorCode is the numeric code carried in every response envelope.
type ErrorCode int

// Ranges:
//
//	10000-10499 service and infrastructure
//	17000-17099 analyze failures (422)
//	17100-17299 caller errors on confirm, generate and run (400)
//	17300-17399 lookups (404)
const (
	Success ErrorCode = 10000

	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007

	DatabaseError       ErrorCode = 10100
	RecordAlreadyExists ErrorCode = 10102
	CacheError          ErrorCode = 10200
	StorageError        ErrorCode = 10400
	MQError             ErrorCode = 10401

	SchemaValidationFailed       ErrorCode = 17004
	AnalyzeFailedStuckValidation ErrorCode = 17005
	AnalyzeFailedAfterRetries    ErrorCode = 17006
	LLMUnavailable               ErrorCode = 17007

	AmbiguitiesNotConfirmed ErrorCode = 17100
	MissingConfirmation     ErrorCode = 17101
	InvalidChoice           ErrorCode = 17102
	VersionAnalyzeFailed    ErrorCode = 17103

	MissingCode       ErrorCode = 17200
	MissingEntrypoint ErrorCode = 17201
	CannotReadFile    ErrorCode = 17202
	RunQueueFull      ErrorCode = 17203
	SandboxError      ErrorCode = 17204

	TaskNotFound     ErrorCode = 17300
	VersionNotFound  ErrorCode = 17301
	SnapshotNotFound ErrorCode = 17302
)

// errorMessages maps error codes to their default English messages.
// Oracle codes use their wire names so clients can match on the message.
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",

	// Database
	DatabaseError:       "Database operation failed",
	RecordAlreadyExists: "Record already exists",

	// Cache
	CacheError: "Cache operation failed",

	// Storage & messaging
	StorageError: "Object storage operation failed",
	MQError:      "Message queue operation failed",

	// Analyze
	SchemaValidationFailed:       "schema_validation_failed",
	AnalyzeFailedStuckValidation: "analyze_failed_stuck_validation",
	AnalyzeFailedAfterRetries:    "analyze_failed_after_retries",
	LLMUnavailable:               "llm_unavailable",

	// Confirmation & tests
	AmbiguitiesNotConfirmed: "ambiguities_not_confirmed",
	MissingConfirmation:     "missing_confirmation",
	InvalidChoice:           "invalid_choice",
	VersionAnalyzeFailed:    "version_analyze_failed",

	// Run
	MissingCode:       "missing_code",
	MissingEntrypoint: "missing_entrypoint",
	CannotReadFile:    "cannot_read_file",
	RunQueueFull:      "Run queue is full, please try again later",
	SandboxError:      "sandbox_error",

	// Lookup
	TaskNotFound:     "task_not_found",
	VersionNotFound:  "version_not_found",
	SnapshotNotFound: "snapshot_not_found",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c >= 17300 && c < 17400:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == RunQueueFull:
		return 503
	case c == LLMUnavailable:
		return 502
	case c >= 17000 && c < 17100: // Analyze failures
		return 422
	case c >= 17100 && c < 17300: // Caller input errors
		if c == SandboxError {
			return 500
		}
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
