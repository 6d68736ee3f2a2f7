// Package client is the container side of boxctl. It keeps one tunnel
// session to the host daemon alive, relays port streams, streams terminal
// snapshots and serves the local socket that `boxctl notify` and
// `boxctl ports` use inside the container.
package client
