// Package relay implements the signaling relay between the two bound
// connections of a session.
//
// Uses single goroutine + command channel (no mutexes), like the websocket
// broadcaster it grew out of. Each session has one slot per role; a slot
// rebind is only allowed once the previous connection is marked
// disconnected, which is what makes reconnection work. Handshake traffic
// (offer/answer/ice-candidate) is dropped when the counterpart is absent -
// stale signaling is useless - while chat is queued in a small bounded
// backlog and flushed on rejoin. Per (session, role) ordering is FIFO via
// the single writer goroutine behind each sink.
package relay
