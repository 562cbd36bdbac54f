// Package shard maps session IDs onto a fixed number of independently locked buckets.
package shard

import "github.com/cespare/xxhash/v2"

// DefaultCount is used when a caller asks for zero or fewer shards.
const DefaultCount = 32

// Index returns the bucket for key in [0, n).
func Index(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Normalize returns n, or DefaultCount when n is not positive.
func Normalize(n int) int {
	if n <= 0 {
		return DefaultCount
	}
	return n
}
