// Package util provides small helpers shared by the engines and the coordinator:
// FNV-1a string hashing (used to key in-flight schema reconciliations) and a
// constant-memory size histogram (used for engine size reporting).
package util
