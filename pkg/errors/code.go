package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Access control errors
// 13000-13999: Workspace, build and execution errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// Queue errors (10400-10499)
	QueuePublishFailed ErrorCode = 10400
	QueueMessageBad    ErrorCode = 10401

	// ========== Access Control Errors (11000-11999) ==========
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Workspace, Build & Execution Errors (13000-13999) ==========

	// Submission (13000-13099)
	SourceTooLarge      ErrorCode = 13002
	UnsupportedLanguage ErrorCode = 13003
	ExecutorBusy        ErrorCode = 13100
	SandboxError        ErrorCode = 13101
	DispatchFailed      ErrorCode = 13102
	InvalidRunSpec      ErrorCode = 13103
	InvalidTemplate     ErrorCode = 13104
	ContainerError      ErrorCode = 13105

	// Workspace (13200-13299)
	FileCreationError    ErrorCode = 13200
	WorkspaceAcquireFail ErrorCode = 13201

	// Stage outcomes (13300-13399)
	CompilerLaunchError     ErrorCode = 13300
	CompilerDiagnosticError ErrorCode = 13301
	ExecutionLaunchError    ErrorCode = 13302
	ExecutionTimeout        ErrorCode = 13303
	ExecutionRuntimeError   ErrorCode = 13304
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",

	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	QueuePublishFailed: "Failed to publish message",
	QueueMessageBad:    "Malformed queue message",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Submission
	SourceTooLarge:      "Source code is too large",
	UnsupportedLanguage: "Unsupported language",
	ExecutorBusy:        "All executors are busy, please try again later",
	SandboxError:        "Sandbox error",
	DispatchFailed:      "Failed to dispatch submission",
	InvalidRunSpec:      "Invalid run specification",
	InvalidTemplate:     "Invalid command template",
	ContainerError:      "Container operation failed",

	// Workspace
	FileCreationError:    "Failed to create temporary file",
	WorkspaceAcquireFail: "Failed to acquire workspace",

	// Stage outcomes
	CompilerLaunchError:     "Failed to compile",
	CompilerDiagnosticError: "Compilation error",
	ExecutionLaunchError:    "Failed to execute",
	ExecutionTimeout:        "Execution timed out",
	ExecutionRuntimeError:   "Runtime error",
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
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound:
		return 404
	case c == SourceTooLarge:
		return 413
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == ExecutorBusy:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == QueueMessageBad, c == UnsupportedLanguage:
		return 400
	default:
		return 500
	}
}
