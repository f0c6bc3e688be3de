package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil. An *Error keeps its code and category;
// context errors map to CANCELLED and anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		wrapped := &Error{
			code:      e.code,
			category:  e.category,
			message:   message,
			cause:     err,
			metadata:  e.Metadata(),
			retryable: e.retryable,
			timestamp: e.timestamp,
			service:   e.service,
			requestID: e.requestID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return New(CodeCancelled, message, append(opts, WithCause(err))...)
	}

	return New(CodeInternal, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsError extracts the outermost *Error from an error chain.
// Returns nil if none is found.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Is checks whether the outermost *Error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	if e := AsError(err); e != nil {
		return e.code == code
	}
	return false
}

// IsCategory checks whether the outermost *Error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	if e := AsError(err); e != nil {
		return e.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable. Errors outside the taxonomy
// are not.
func IsRetryable(err error) bool {
	if e := AsError(err); e != nil {
		return e.Retryable()
	}
	return false
}

// Code extracts the error code from an error, or "" if there is none.
func Code(err error) ErrorCode {
	if e := AsError(err); e != nil {
		return e.code
	}
	return ""
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(CodePanic, "panic: "+message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
