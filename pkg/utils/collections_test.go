package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	doubled := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	assert.Equal(t, []int{2, 4, 6}, doubled)
	assert.Empty(t, Map(nil, func(v int) int { return v }))
}

func TestKeys(t *testing.T) {
	keys := Keys(map[string]int{"a": 1, "b": 2})
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[uint64]string{9: "c", 1: "a", 4: "b"})
	assert.Equal(t, []uint64{1, 4, 9}, keys)
}
