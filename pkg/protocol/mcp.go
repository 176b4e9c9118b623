package protocol

const (
	// LatestProtocolVersion is the newest protocol revision this runtime knows
	LatestProtocolVersion = "2025-03-26"
)

// SupportedProtocolVersions lists every revision this runtime can speak,
// newest first. Negotiation picks the peer's requested revision when it
// appears here, otherwise falls back to LatestProtocolVersion.
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2024-11-05",
	"2024-10-07",
}

// Method names reserved by the message-layer runtime itself. Everything
// else (tools, resources, prompts, sampling, roots) is registered by the
// layers above and is opaque here beyond its capability class.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"

	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
	NotificationProgress    = "notifications/progress"
	NotificationMessage     = "notifications/message"
)

// Implementation identifies one end of a connection.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is sent by the initiating role to open the handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the accepting role's reply.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// InitializedParams accompanies the notifications/initialized notification.
// Intentionally empty.
type InitializedParams struct{}

// PingParams is the (empty) payload of a ping request.
type PingParams struct{}

// PingResult is the (empty) payload of a ping response.
type PingResult struct{}

// ProgressToken identifies the outstanding request a progress notification
// belongs to. The runtime reuses the request's correlation id as its token.
type ProgressToken = interface{}

// ProgressParams is the payload of notifications/progress.
type ProgressParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         float64       `json:"total,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// LoggingLevel is the severity carried by notifications/message.
type LoggingLevel string

const (
	LoggingDebug   LoggingLevel = "debug"
	LoggingInfo    LoggingLevel = "info"
	LoggingWarning LoggingLevel = "warning"
	LoggingError   LoggingLevel = "error"
)

// LoggingMessageParams is the payload of notifications/message.
type LoggingMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   interface{}  `json:"data,omitempty"`
}

// VersionSupported reports whether v appears in the supported list.
func VersionSupported(supported []string, v string) bool {
	for _, s := range supported {
		if s == v {
			return true
		}
	}
	return false
}
