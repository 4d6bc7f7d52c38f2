package util

import (
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is an efficient key type based on uint64 for internal hash representation
type UintKey uint64

// HashString generates a hash value for a string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return UintKey(hash)
}

// HashParts hashes an ordered list of strings. The parts are separated so that
// ("ab", "c") and ("a", "bc") hash differently.
func HashParts(parts ...string) UintKey {
	return HashString(strings.Join(parts, "\x00"), 0)
}

// --------------------------------------------------------------------------
// Slice Helpers
// --------------------------------------------------------------------------

// SortedKeys returns the keys of a map in ascending order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
