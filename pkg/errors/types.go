// Package errors provides structured error handling for the MCP runtime.
// It defines error types that map to JSON-RPC error codes and carry enough
// context for both programmatic handling and debugging.
package errors

import (
	"fmt"
	"time"
)

// Category classifies an error for handling decisions
type Category string

const (
	CategoryProtocol  Category = "protocol"
	CategoryTransport Category = "transport"
	CategoryTimeout   Category = "timeout"
	CategoryCancelled Category = "cancelled"
	CategoryInternal  Category = "internal"
	CategoryUsage     Category = "usage"
)

// Context carries where and when an error occurred
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RPCError is the interface implemented by all runtime errors that can be
// represented as a JSON-RPC error object.
type RPCError interface {
	error

	// Code returns the JSON-RPC error code
	Code() int

	// Message returns a human-readable error message
	Message() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Category returns the error category for classification
	Category() Category

	// Context returns the error context information
	Context() *Context

	// WithContext returns a new error with the provided context
	WithContext(ctx *Context) RPCError

	// WithData returns a new error with structured data
	WithData(data interface{}) RPCError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	data     interface{}
	category Category
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Data() interface{}  { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Context() *Context  { return e.context }
func (e *baseError) Unwrap() error      { return e.cause }

func (e *baseError) WithContext(ctx *Context) RPCError {
	clone := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	clone.context = ctx
	return &clone
}

func (e *baseError) WithData(data interface{}) RPCError {
	clone := *e
	clone.data = data
	return &clone
}

// NewError creates a new RPCError with the given code, message and category
func NewError(code int, message string, category Category) RPCError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
	}
}

// WrapError creates a new RPCError wrapping an underlying cause
func WrapError(code int, message string, category Category, cause error) RPCError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		cause:    cause,
	}
}
