// Package kvtable provides named hash tables for the routing table.
//
// Backends:
//   - SQLite: rows of the rerouting_hash table, keyed by (hash_name, field)
//   - Redis: a native hash (HSET/HDEL/DEL/HGETALL/HMGET)
//   - NATS: a JetStream KV bucket; keys are base64url-encoded
//
// None of them cache. Every call is one round-trip except where noted on the
// NATS backend, which has no multi-key read.
package kvtable
