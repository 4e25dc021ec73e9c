// Package dispatch pulls queue entries and runs them through a middleware
// chain that ends in the job type's handler.
//
// Each entry ends in one of:
//   - succeeded: the handler ran and returned nil
//   - skipped: a middleware returned nil without calling next (e.g. the job was rerouted)
//   - queued again: the chain failed and attempts remain; redelivered after backoff
//   - dead: the chain failed on the last attempt, or the type is not registered
//
// Backoff doubles per attempt from the configured base.
// Workers share nothing but the queue; Start runs Workers of them.
package dispatch
