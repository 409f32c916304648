// Package ws is the connection gateway: it accepts WebSocket connections
// and gives each one its own terminal session.
//
// The package implements:
//   - Codec: decodes inbound messages into input, resize or raw frames
//   - Hub: tracks connected clients by session
//   - Handler: upgrades connections and runs the read and write pumps
//   - Service: wires the hub and handler to the session manager
//
// Inbound messages are JSON records {"type":"input","data":...} and
// {"type":"resize","cols":...,"rows":...}; anything else is written to
// the process as typed. Outbound messages carry process output unchanged,
// interleaved with "[server]" diagnostic lines.
package ws
