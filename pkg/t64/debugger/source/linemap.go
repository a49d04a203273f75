package source

import "sort"

// LineMapping is a bidirectional partial map between source lines and
// instruction addresses. One line may map to several addresses; the
// reverse direction therefore yields sets.
type LineMapping struct {
	lineToAddr map[uint64]uint64
	addrToLine map[uint64][]uint64
}

// NewLineMapping builds the mapping from line -> address entries.
func NewLineMapping(entries map[uint64]uint64) *LineMapping {
	m := &LineMapping{
		lineToAddr: make(map[uint64]uint64, len(entries)),
		addrToLine: make(map[uint64][]uint64),
	}
	for line, addr := range entries {
		m.lineToAddr[line] = addr
		m.addrToLine[addr] = append(m.addrToLine[addr], line)
	}
	for _, lines := range m.addrToLine {
		sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
	}
	return m
}

// Size returns the number of mapped lines.
func (m *LineMapping) Size() int {
	return len(m.lineToAddr)
}

// Address returns the address a source line maps to.
func (m *LineMapping) Address(line uint64) (uint64, bool) {
	addr, ok := m.lineToAddr[line]
	return addr, ok
}

// Lines returns all source lines mapped to the address, in ascending
// order.
func (m *LineMapping) Lines(address uint64) []uint64 {
	return m.addrToLine[address]
}

// Entries returns a copy of the line -> address entries.
func (m *LineMapping) Entries() map[uint64]uint64 {
	entries := make(map[uint64]uint64, len(m.lineToAddr))
	for line, addr := range m.lineToAddr {
		entries[line] = addr
	}
	return entries
}
