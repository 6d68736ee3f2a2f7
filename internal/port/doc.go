// Package port manages dynamic port tunnels between host and containers.
//
// A tunnel is configured per project and persisted in the project's
// .boxctl/config.yml. It is Active only while the project has an active
// tunnel session:
//
//   - expose: the manager listens on bind:host_port and pairs every
//     accepted connection with an "expose" stream to the container port.
//   - forward: the manager pushes forward_listen to the container, which
//     listens on container_port and opens a "forward" stream per
//     connection; the manager dials bind:host_port for each.
//
// When the session goes away tunnels fall back to Configured and come
// back when the project reconnects.
//
// # Conflicts
//
// A host port belongs to at most one tunnel. Add checks every configured
// tunnel of every project, active or not, and fails with PortInUse.
// Activation fails with PortInUse if another tunnel is active on the port
// or the port is bound by something outside boxctl. Host ports below 1024
// are rejected.
package port
