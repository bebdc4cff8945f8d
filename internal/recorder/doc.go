// Package recorder implements the persistence collaborator for finalize events.
//
// The core hands each completed session here exactly once. The Postgres
// recorder writes one row per session; the circuit breaker wrapper keeps a
// dead database from wedging session teardown; the memory recorder backs
// tests and database-less deployments.
package recorder
