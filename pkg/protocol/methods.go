package protocol

import "strings"

// CapabilityForMethod maps a method name onto the capability key that gates
// it and the role that declares that key. serverSide is true for feature
// classes the accepting role advertises (tools, resources, prompts,
// logging) and false for those the initiating role advertises (sampling,
// roots). Lifecycle methods (initialize, ping, the initialized/cancelled/
// progress notifications) are ungated and return gated=false.
func CapabilityForMethod(method string) (cap Capability, serverSide bool, gated bool) {
	name := strings.TrimPrefix(method, "notifications/")
	switch name {
	case "initialized", "cancelled", "progress":
		return "", false, false
	}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}

	switch name {
	case "tools":
		return CapabilityTools, true, true
	case "resources":
		return CapabilityResources, true, true
	case "prompts":
		return CapabilityPrompts, true, true
	case "logging", "message":
		return CapabilityLogging, true, true
	case "sampling":
		return CapabilitySampling, false, true
	case "roots":
		return CapabilityRoots, false, true
	}
	return "", false, false
}
