// Package cache provides the key-value stores behind the cached query executor.
//
// A Store speaks the two-verb protocol the executor needs: GET a payload by
// key and SET a payload with a per-key expiry. Two stores are provided:
//   - RedisStore, backed by github.com/redis/go-redis/v9, is the production store.
//     Expiry is native Redis TTL (SET key value EX seconds).
//   - FileStore keeps one JSON file per key under a directory and enforces the
//     expiry itself. It is meant for local development without a Redis server.
//
// Stores distinguish an absent entry (ErrCacheNotFound) from an unreachable
// store (ErrCacheUnavailable); the executor treats the first as a miss and the
// second as a reason to bypass the cache entirely.
package cache
