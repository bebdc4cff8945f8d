// Package server exposes the websocket endpoints and wires inbound frames to
// the dispatcher, relay, lifecycle manager and presence registry.
//
// Each websocket gets a read pump (here) and a write goroutine (connWriter).
// The connection hub tracks live sockets per participant and implements the
// Notifier the core components push events through.
package server
