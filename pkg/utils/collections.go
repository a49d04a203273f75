// Package utils provides small generic collection helpers shared across
// the tiny64 toolchain.
package utils

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// Map applies a function to all elements of a slice and collects the
// results.
func Map[T any, U any](input []T, fn func(T) U) []U {
	output := make([]U, len(input))
	for i := range input {
		output[i] = fn(input[i])
	}
	return output
}

// Keys returns the keys of a map in unspecified order.
func Keys[K comparable, V any](input map[K]V) []K {
	keys := make([]K, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	return keys
}

// SortedKeys returns the keys of a map in ascending order.
func SortedKeys[K constraints.Ordered, V any](input map[K]V) []K {
	keys := Keys(input)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
