// Package cache provides the key/value Store used by the cache_get and
// cache_set nodes, with in-memory and Redis implementations and the scope
// based key prefixing.
package cache
