package distant

import "github.com/distant-io/distant-go/internal/coretypes"

// Destination is a parsed remote server address: scheme://host[:port], per
// spec.md's glossary entry "a parsed remote address... used by the manager
// to dial." It aliases internal/coretypes.Destination so that
// internal/connection and internal/manager can share this package's public
// Destination type without importing this package themselves — this
// package's Server/Client facades import them, and Go forbids the reverse
// edge too.
type Destination = coretypes.Destination

// DefaultPort is used when a destination string omits an explicit port.
const DefaultPort = coretypes.DefaultPort

// ParseDestination parses a "scheme://host[:port]" string. A missing
// scheme defaults to "distant"; a missing port defaults to DefaultPort.
func ParseDestination(s string) (Destination, error) { return coretypes.ParseDestination(s) }
