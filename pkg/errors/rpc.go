package errors

import (
	"fmt"
	"time"
)

// TimeoutErrorData describes a timed-out request
type TimeoutErrorData struct {
	Timeout       time.Duration `json:"timeout"`
	MaxTotal      time.Duration `json:"maxTotalTimeout,omitempty"`
	TotalExceeded bool          `json:"totalExceeded,omitempty"`
}

// MethodErrorData names the method an error relates to
type MethodErrorData struct {
	Method string `json:"method"`
}

// CapabilityErrorData names the missing or misused capability
type CapabilityErrorData struct {
	Capability string `json:"capability"`
	Method     string `json:"method,omitempty"`
	Local      bool   `json:"local"`
}

// RequestTimeout creates the error a pending request settles with when its
// per-attempt timer fires.
func RequestTimeout(timeout time.Duration) RPCError {
	return NewError(
		CodeRequestTimeout,
		"request timed out",
		CategoryTimeout,
	).WithData(&TimeoutErrorData{Timeout: timeout})
}

// MaxTotalTimeoutExceeded creates the error a pending request settles with
// when cumulative elapsed time passes its maxTotalTimeout budget.
func MaxTotalTimeoutExceeded(maxTotal time.Duration) RPCError {
	return NewError(
		CodeRequestTimeout,
		"maximum total timeout exceeded",
		CategoryTimeout,
	).WithData(&TimeoutErrorData{MaxTotal: maxTotal, TotalExceeded: true})
}

// ConnectionClosed creates the error every still-pending request settles
// with when the transport closes.
func ConnectionClosed() RPCError {
	return NewError(
		CodeConnectionClosed,
		"connection closed",
		CategoryTransport,
	)
}

// MethodNotFound creates the error response payload for an unhandled method
func MethodNotFound(method string) RPCError {
	return NewError(
		CodeMethodNotFound,
		fmt.Sprintf("method not found: %s", method),
		CategoryProtocol,
	).WithData(&MethodErrorData{Method: method})
}

// InvalidParams creates an invalid-params error for the given method
func InvalidParams(method string, cause error) RPCError {
	return WrapError(
		CodeInvalidParams,
		fmt.Sprintf("invalid params for %s", method),
		CategoryProtocol,
		cause,
	).WithData(&MethodErrorData{Method: method})
}

// Internal creates an internal error wrapping a handler failure
func Internal(message string, cause error) RPCError {
	return WrapError(CodeInternalError, message, CategoryInternal, cause)
}

// CapabilityMissing creates the error raised when a method is sent or a
// handler registered without the capability that gates it. Local reports
// whether the check ran against the local declaration rather than the
// remote one.
func CapabilityMissing(capability, method string, local bool) RPCError {
	side := "remote side"
	if local {
		side = "local side"
	}
	return NewError(
		CodeInvalidRequest,
		fmt.Sprintf("%s does not declare capability %q (method %s)", side, capability, method),
		CategoryUsage,
	).WithData(&CapabilityErrorData{Capability: capability, Method: method, Local: local})
}
