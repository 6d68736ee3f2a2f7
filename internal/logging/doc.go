// Package logging provides logging utilities for boxctl.
//
// This package provides two categories of output:
//   - Debug logging: Structured logs for the daemon, client and sync loop (via slog)
//   - User output: Formatted messages for people running the CLI
//
// # Debug Logging
//
// Logs are written using slog and controlled by verbosity settings:
//
//	logging.Debug("session registered", "identity", identity)
//	logging.Warn("sync lock stolen", "path", lockPath, "age", age)
//
// Long-running components take a scoped logger:
//
//	log := logging.With("component", "registry")
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("No sessions connected")
//	logging.UserSuccess("Exposed container port %d on host port %d", c, h)
//	logging.UserWarning("Port %d is already in use", port)
//	logging.UserError("Failed to reach daemon: %v", err)
//
// Output destinations:
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
package logging
