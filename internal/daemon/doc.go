// Package daemon runs the host side of boxctl.
//
// The daemon accepts tunnel connections from containers on a unix socket
// (and optionally TCP), registers each as a session, answers control
// requests (notify, port activation, port listing), stores terminal
// snapshots and relays port streams. A small HTTP API on a second unix
// socket serves the CLI. Background loops sweep the registry, detect
// stalled sessions and reload the host config when it changes.
package daemon
