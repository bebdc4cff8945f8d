// Package lifecycle implements the session state machine.
//
// The Manager owns the session table and is the only place reconnection
// logic lives. Transitions run under the manager lock (single writer per
// table); notifications, finalize events and registry updates are deferred
// until the lock is released so callbacks can never invert lock order.
// Grace timers carry a generation counter, so a timer that lost a race with
// a resume fires into the void.
package lifecycle
