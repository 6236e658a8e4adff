// Package relay implements the single-room broadcast endpoint the chat
// client connects to during development and integration testing.
//
// The package implements:
//   - Hub: tracks connected clients and fans frames out to all but the origin
//   - Client: one connection with a buffered outbound queue and a single writer
//   - Handler: upgrades HTTP requests and runs the read/write pumps
//
// The relay forwards frames verbatim, preserving the original frame
// type; it never inspects chat payloads.
package relay
