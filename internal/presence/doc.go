// Package presence implements the interpreter presence registry.
//
// The Registry owns the interpreter table behind a single lock. It tracks
// status and language capabilities, sweeps stale entries offline on a
// heartbeat timer, and answers eligibility queries for the dispatcher.
// Storage is pluggable: in-memory for a single instance, Redis when several
// instances share presence.
package presence
