// Package rerouting redirects already-enqueued jobs to another queue at pickup time.
//
// An operator marks a job, by id or by type, with a destination queue. The
// marks live in a routing table behind a KeyValueTable (SQLite, Redis or NATS KV).
// When a worker picks up a job, the Interceptor runs before the job's handler,
// looks the job up, and either re-submits it to the destination queue and skips
// execution, or lets the handler run.
//
// Markers have the canonical form "<kind>:<value>" with kind "id" or "type".
// When both apply to a job the id marker wins.
//
// Races:
//   - Reroute and DestinationFor are not linearized with each other; a job picked
//     up while a marker is being written may go either way.
//   - Two Reroute calls on the same marker are last-write-wins.
//
// No errors are swallowed: a failed lookup or re-submission is returned to the
// dispatcher rather than running the job in its original queue.
package rerouting
