package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error is the structured error type returned by every admitkit component.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
	service   string
	requestID string
}

var (
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Service returns the service the error relates to, if set.
func (e *Error) Service() string {
	return e.service
}

// RequestID returns the related request ID, if set.
func (e *Error) RequestID() string {
	return e.requestID
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	Service   string            `json:"service,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		Service:   e.service,
		RequestID: e.requestID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.service = j.Service
	e.requestID = j.RequestID
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithService sets the service the error relates to.
func WithService(name string) Option {
	return func(e *Error) {
		e.service = name
	}
}

// WithRequestID sets the related request ID.
func WithRequestID(id string) Option {
	return func(e *Error) {
		e.requestID = id
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Configuration creates a configuration error with a formatted message.
func Configuration(format string, args ...interface{}) *Error {
	return New(CodeConfiguration, fmt.Sprintf(format, args...))
}

// QueueFull reports that the named service's queue rejected a submission.
func QueueFull(service string, depth int, opts ...Option) *Error {
	opts = append([]Option{WithService(service)}, opts...)
	return New(CodeQueueFull, fmt.Sprintf("service %s: queue full (max depth %d)", service, depth), opts...)
}

// DeadlineExceeded reports a request whose deadline passed before admission.
func DeadlineExceeded(service, requestID string, deadline time.Time) *Error {
	return New(CodeDeadlineExceeded,
		fmt.Sprintf("service %s: request %s deadline %s passed before admission",
			service, requestID, deadline.Format(time.RFC3339Nano)),
		WithService(service), WithRequestID(requestID))
}

// Executor wraps an error returned by a service executor.
func Executor(service, requestID string, cause error) *Error {
	return New(CodeExecutor, fmt.Sprintf("service %s: executor failed", service),
		WithService(service), WithRequestID(requestID), WithCause(cause))
}

// ServiceUnavailable reports a request rejected because its service crashed.
func ServiceUnavailable(service string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithService(service), WithCause(cause)}, opts...)
	return New(CodeServiceUnavailable, fmt.Sprintf("service %s is unavailable", service), opts...)
}

// Cancelled reports a request stopped by shutdown or explicit cancellation.
func Cancelled(reason string, opts ...Option) *Error {
	return New(CodeCancelled, "cancelled: "+reason, opts...)
}
