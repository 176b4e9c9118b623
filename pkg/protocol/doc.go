// Package protocol defines the wire-level types of the MCP message layer.
//
// It covers the four JSON-RPC 2.0 message shapes (request, notification,
// response, error), the error code space including the SDK-defined
// RequestTimeout and ConnectionClosed codes, the handshake payloads
// (initialize / initialized), the built-in utility payloads (ping,
// notifications/cancelled, notifications/progress, notifications/message),
// and the capability structures exchanged during the handshake.
//
// # Capability Model
//
// Capabilities form a nested key/options bag with a fixed set of known
// top-level keys (tools, resources, prompts, sampling, roots, logging,
// experimental). Declaring a key advertises the feature class; nested
// options such as listChanged or subscribe refine it. Two capability sets
// combine with Merge, a structural union.
//
// # Version Negotiation
//
// SupportedProtocolVersions lists every revision this runtime can speak.
// The accepting role echoes the requested revision when supported and
// falls back to LatestProtocolVersion otherwise; the initiating role
// rejects a reply carrying a revision it does not support.
package protocol
