// Package board wires the alarm engine to its configured gateway, snapshot
// file and optional introspection server, and runs it until shutdown. It
// backs the alarm-board binary.
package board
