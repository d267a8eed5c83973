package models

import "fmt"

// Capability identifies a platform or monitoring feature a guardian can
// grant or restrict per child.
type Capability string

const (
	CapabilityDiscord   Capability = "Discord"
	CapabilityRoblox    Capability = "Roblox"
	CapabilityTikTok    Capability = "TikTok"
	CapabilityMessenger Capability = "Messenger"
	CapabilitySMSRadar  Capability = "SMS"
	CapabilitySafeScope Capability = "SafeScope"
)

// Capabilities lists every known capability, platform toggles first.
func Capabilities() []Capability {
	return []Capability{
		CapabilityDiscord,
		CapabilityRoblox,
		CapabilityTikTok,
		CapabilityMessenger,
		CapabilitySMSRadar,
		CapabilitySafeScope,
	}
}

// ParseCapability validates a capability name from an external caller.
func ParseCapability(s string) (Capability, error) {
	for _, c := range Capabilities() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// OptIn reports whether the capability requires explicit guardian opt-in.
// Platform access toggles default to granted until the guardian restricts
// them; SMS radar and the SafeScope filter default to off until the
// guardian opts in.
func (c Capability) OptIn() bool {
	return c == CapabilitySMSRadar || c == CapabilitySafeScope
}

// DefaultGranted is the consent value when no record has been written.
func (c Capability) DefaultGranted() bool {
	return !c.OptIn()
}

// ConsentRecord is one guardian decision for one child capability.
// Last write wins; only guardian actors may write.
type ConsentRecord struct {
	ChildID    string     `json:"-"`
	Capability Capability `json:"-"`
	Granted    bool       `json:"granted"`
	UpdatedAt  int64      `json:"updatedAt"`
	UpdatedBy  string     `json:"updatedBy,omitempty"`
}
