// Package integration runs a real daemon and real container clients in
// one process, connected over unix sockets, so tests can exercise the
// whole path from a container through the tunnel to the control API.
//
//	func TestSomething(t *testing.T) {
//	    h := integration.NewHarness(t) // skipped with -short
//	    c := h.Connect("boxctl-webapp", "webapp")
//	    sessions, _ := h.API.Sessions(ctx)
//	    ...
//	}
//
// The harness keeps socket paths short (unix socket paths are limited to
// about 100 bytes) and records desktop notifications instead of showing
// them.
package integration
