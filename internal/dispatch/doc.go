// Package dispatch implements the matching dispatcher.
//
// A submitted request fans out to every eligible interpreter at once; the
// first accept to reach the dispatcher wins, decided by a pending->accepted
// compare-and-swap under the dispatcher lock. Losers get a conflict, every
// other notified interpreter gets a cancellation, and a client cancel that
// loses the race with an accept is converted into an end-session rather
// than dropped.
package dispatch
