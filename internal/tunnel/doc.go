// Package tunnel implements the wire protocol between a container-side
// client and the host daemon.
//
// A connection starts with a Hello/Welcome exchange, after which both
// sides run a Mux. The Mux carries:
//
//   - control messages on stream 0: CBOR envelopes of kind request,
//     response or event;
//   - logical byte streams, opened by either side with an OpenRequest
//     (terminal snapshots, exposed ports, forwarded ports);
//   - ping/pong frames that keep the transport alive.
//
// Every frame has a 10 byte header:
//
//	[type u8][flags u8][stream u32][length u32][payload...]
//
// Data frames may be compressed with lz4 or zstd; the compression tag
// lives in the low bits of the flags byte.
package tunnel
