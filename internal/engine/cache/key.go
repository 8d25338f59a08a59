package cache

// DefaultKeyPrefix namespaces query results in a shared store.
const DefaultKeyPrefix = "postgres_cache"

// DeriveKey returns the cache key for a query text: the namespace prefix, a
// colon, then the exact query text. Distinct texts always yield distinct keys,
// and texts differing only in whitespace do not share an entry.
func DeriveKey(prefix, query string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + query
}
