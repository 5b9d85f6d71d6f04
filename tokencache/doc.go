// Package tokencache defines the cache gateway for acquired access tokens:
// a Cache interface over an external key/value store with TTL support,
// deterministic cache key derivation and expiry-derived TTL computation.
//
// The cache backend owns storage and eviction; this package owns only key
// derivation and TTL math. Lookups and stores are plain pass-throughs with no
// negative caching, and a store always overwrites any existing entry for the
// same key (last write wins).
//
// Backends live in the redis and memory subpackages.
package tokencache
