// Package network turns kernel link notifications into attach-point events.
//
// # Overview
//
// The daemon does not create interfaces; it follows them. A [Monitor]
// subscribes to RTM_NEWLINK/RTM_DELLINK through netlink (optionally inside a
// named network namespace) and feeds every update to a [Handler], which:
//
//   - keeps the name → ifindex table used to bind rulesets to interfaces
//   - announces the L3 FAL feature mode once per interface
//   - raises attach-point up/down when the administrative state flips
//
// # Offload
//
// When offload is required, an interface is only announced as FAL-enabled
// if ethtool reports the hw-tc-offload feature. Without that requirement
// every interface is enabled on first sight.
//
// # Platform Support
//
// The monitor and the ethtool probe are Linux-only. Other platforms get
// stubs that return an unavailable error; the [Handler] itself is portable
// and is what the tests drive.
package network
