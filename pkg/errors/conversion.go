package errors

import (
	goerrors "errors"

	"github.com/modelrpc/mcp-runtime-go/pkg/protocol"
)

// ToWire converts any error into a JSON-RPC error object. RPCErrors and
// wire errors keep their code; everything else becomes an internal error.
func ToWire(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	var rpcErr RPCError
	if goerrors.As(err, &rpcErr) {
		return &protocol.Error{
			Code:    protocol.ErrorCode(rpcErr.Code()),
			Message: rpcErr.Message(),
			Data:    rpcErr.Data(),
		}
	}

	var wireErr *protocol.Error
	if goerrors.As(err, &wireErr) {
		return wireErr
	}

	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: err.Error(),
	}
}

// FromWire converts a JSON-RPC error object into an RPCError
func FromWire(e *protocol.Error) RPCError {
	if e == nil {
		return nil
	}
	return NewError(int(e.Code), e.Message, categoryForCode(int(e.Code))).WithData(e.Data)
}

func categoryForCode(code int) Category {
	switch code {
	case CodeRequestTimeout:
		return CategoryTimeout
	case CodeConnectionClosed:
		return CategoryTransport
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
		return CategoryProtocol
	default:
		return CategoryInternal
	}
}

// CodeOf extracts the JSON-RPC error code from err, or CodeInternalError
// when err carries none. Handler errors flow through this on the way to an
// error response.
func CodeOf(err error) int {
	var rpcErr RPCError
	if goerrors.As(err, &rpcErr) {
		return rpcErr.Code()
	}
	var wireErr *protocol.Error
	if goerrors.As(err, &wireErr) {
		return int(wireErr.Code)
	}
	return CodeInternalError
}
