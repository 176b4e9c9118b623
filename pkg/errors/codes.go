package errors

// JSON-RPC 2.0 standard error codes
const (
	// CodeParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeInternalError indicates an internal JSON-RPC error
	CodeInternalError int = -32603
)

// SDK-defined error codes synthesized by the runtime itself
const (
	// CodeConnectionClosed indicates the transport closed with requests in flight
	CodeConnectionClosed int = -32000

	// CodeRequestTimeout indicates a request's timer fired before a response
	CodeRequestTimeout int = -32001
)
