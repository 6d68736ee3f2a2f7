// Package health derives the status shown for a session in listings.
//
// The registry only knows connection states. Listings also need to say
// whether a connected agent is working, quiet or stalled:
//
//	StatusConnecting   - handshake accepted, not yet active
//	StatusActive       - activity within the idle threshold
//	StatusIdle         - no activity for longer than the idle threshold
//	StatusStalled      - flagged by the stall detector
//	StatusDisconnected - transport gone, entry kept for the retention period
//
// Use Derive for a single status and Check for a full report.
package health
