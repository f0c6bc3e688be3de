package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates failures where a later retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates capacity pressure such as a full queue.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected faults inside the system.
	CategoryInternal ErrorCategory = "internal"

	// CategoryExternal indicates failures raised by caller-supplied code.
	// The core never inspects or retries them.
	CategoryExternal ErrorCategory = "external"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes reported by the coordination core.
const (
	CodeConfiguration      ErrorCode = "CONFIGURATION"       // invalid configuration or unsatisfiable request
	CodeQueueFull          ErrorCode = "QUEUE_FULL"          // fail-fast queue at max depth
	CodeDeadlineExceeded   ErrorCode = "DEADLINE_EXCEEDED"   // deadline passed before admission
	CodeExecutor           ErrorCode = "EXECUTOR"            // executor returned an error
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE" // service worker crashed
	CodeCancelled          ErrorCode = "CANCELLED"           // shutdown or explicit cancellation
	CodeInternal           ErrorCode = "INTERNAL"            // unexpected internal error
	CodePanic              ErrorCode = "PANIC"               // recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case CodeDeadlineExceeded:
		return CategoryTransient
	case CodeConfiguration, CodeCancelled:
		return CategoryPermanent
	case CodeQueueFull:
		return CategoryResource
	case CodeExecutor:
		return CategoryExternal
	case CodeServiceUnavailable, CodeInternal, CodePanic:
		return CategoryInternal
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	CodeConfiguration:      "invalid configuration",
	CodeQueueFull:          "admission queue full",
	CodeDeadlineExceeded:   "deadline exceeded before admission",
	CodeExecutor:           "executor failed",
	CodeServiceUnavailable: "service unavailable",
	CodeCancelled:          "request cancelled",
	CodeInternal:           "internal error",
	CodePanic:              "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
