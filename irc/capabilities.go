package irc

import (
	"slices"
	"strings"
)

// Client capabilities that change how channel events are rendered.
const (
	CapExtendedJoin = "extended-join"
	CapAwayNotify   = "away-notify"
	CapMultiPrefix  = "multi-prefix"
)

// Capability represents an IRC capability supported by the server
type Capability struct {
	Name        string // The name of the capability as sent to the client
	Description string // Description of what the capability does
}

// ServerCapabilities lists the capabilities a local session may enable.
var ServerCapabilities = map[string]*Capability{
	CapExtendedJoin: {
		Name:        CapExtendedJoin,
		Description: "Provides account name and real name in JOIN messages",
	},
	CapAwayNotify: {
		Name:        CapAwayNotify,
		Description: "Sends automatic AWAY notifications when users change away status",
	},
	CapMultiPrefix: {
		Name:        CapMultiPrefix,
		Description: "Enables multiple prefix modes in NAMES/WHO replies (@+nick)",
	},
}

// Caps is the set of capabilities enabled on one session.
type Caps map[string]struct{}

// NewCaps returns a set holding the known capabilities among names.
func NewCaps(names ...string) Caps {
	caps := make(Caps, len(names))
	for _, name := range names {
		caps.Enable(name)
	}
	return caps
}

// Has reports whether name is enabled. The empty name is always satisfied.
func (c Caps) Has(name string) bool {
	if name == "" {
		return true
	}
	_, ok := c[name]
	return ok
}

// Enable turns on a known capability and reports whether it was accepted.
func (c Caps) Enable(name string) bool {
	if _, known := ServerCapabilities[name]; !known {
		return false
	}
	c[name] = struct{}{}
	return true
}

// Disable turns off a capability.
func (c Caps) Disable(name string) {
	delete(c, name)
}

// String lists the enabled capabilities separated by spaces.
func (c Caps) String() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, " ")
}
