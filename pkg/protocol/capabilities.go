package protocol

// Capability names the known top-level capability keys. Each key carries an
// open options record; unknown experimental features nest under Experimental.
type Capability string

const (
	CapabilityTools        Capability = "tools"
	CapabilityResources    Capability = "resources"
	CapabilityPrompts      Capability = "prompts"
	CapabilitySampling     Capability = "sampling"
	CapabilityRoots        Capability = "roots"
	CapabilityLogging      Capability = "logging"
	CapabilityExperimental Capability = "experimental"
)

// Capabilities is the negotiated feature set for one side of a connection.
// Declaring a key (even with zero options) advertises the feature class;
// nested options refine it.
type Capabilities struct {
	Experimental map[string]map[string]interface{} `json:"experimental,omitempty"`
	Sampling     map[string]interface{}            `json:"sampling,omitempty"`
	Logging      map[string]interface{}            `json:"logging,omitempty"`
	Roots        *RootsCapability                  `json:"roots,omitempty"`
	Prompts      *PromptsCapability                `json:"prompts,omitempty"`
	Resources    *ResourcesCapability              `json:"resources,omitempty"`
	Tools        *ToolsCapability                  `json:"tools,omitempty"`
}

// RootsCapability refines the roots feature class.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability refines the prompts feature class.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability refines the resources feature class.
type ResourcesCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// ToolsCapability refines the tools feature class.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Has reports whether the given top-level capability key is declared.
func (c Capabilities) Has(key Capability) bool {
	switch key {
	case CapabilityTools:
		return c.Tools != nil
	case CapabilityResources:
		return c.Resources != nil
	case CapabilityPrompts:
		return c.Prompts != nil
	case CapabilitySampling:
		return c.Sampling != nil
	case CapabilityRoots:
		return c.Roots != nil
	case CapabilityLogging:
		return c.Logging != nil
	case CapabilityExperimental:
		return c.Experimental != nil
	default:
		return false
	}
}

// Merge returns the structural union of c and other: top-level keys are
// shallow-unioned, nested options within a key are unioned with other
// taking precedence. Neither input is mutated.
func (c Capabilities) Merge(other Capabilities) Capabilities {
	out := c

	out.Experimental = mergeNested(c.Experimental, other.Experimental)
	out.Sampling = mergeOptions(c.Sampling, other.Sampling)
	out.Logging = mergeOptions(c.Logging, other.Logging)

	if other.Roots != nil {
		merged := *other.Roots
		if c.Roots != nil {
			merged.ListChanged = c.Roots.ListChanged || other.Roots.ListChanged
		}
		out.Roots = &merged
	}
	if other.Prompts != nil {
		merged := *other.Prompts
		if c.Prompts != nil {
			merged.ListChanged = c.Prompts.ListChanged || other.Prompts.ListChanged
		}
		out.Prompts = &merged
	}
	if other.Resources != nil {
		merged := *other.Resources
		if c.Resources != nil {
			merged.ListChanged = c.Resources.ListChanged || other.Resources.ListChanged
			merged.Subscribe = c.Resources.Subscribe || other.Resources.Subscribe
		}
		out.Resources = &merged
	}
	if other.Tools != nil {
		merged := *other.Tools
		if c.Tools != nil {
			merged.ListChanged = c.Tools.ListChanged || other.Tools.ListChanged
		}
		out.Tools = &merged
	}

	return out
}

func mergeOptions(a, b map[string]interface{}) map[string]interface{} {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func mergeNested(a, b map[string]map[string]interface{}) map[string]map[string]interface{} {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = mergeOptions(out[k], v)
	}
	return out
}
