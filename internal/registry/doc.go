// Package registry tracks the tunnel sessions of connected containers.
//
// Each session moves Connecting -> Active -> Disconnected. A new
// connection for an identity supersedes the previous one. Disconnected
// entries stay listed for the configured retention period, then Sweep
// purges them.
//
// The registry distinguishes two clocks per session: the transport's
// LastSeen, advanced by any inbound frame including pings, decides
// liveness; LastActivity, advanced only by Heartbeat, feeds stall
// detection.
package registry
