package asm

import (
	"fmt"
	"strings"
)

// Program is a parsed tiny64 program: the ordered instruction list of the
// text section and the flat words of the data section. Text addresses are
// 0-based instruction indices.
type Program struct {
	Instructions []Instruction
	Data         []int64
}

// String renders the program back into its canonical text form. Parsing
// the result yields an equal program, up to the ignored numeric address
// prefixes of the input.
func (p Program) String() string {
	var sb strings.Builder
	sb.WriteString(".text\n")
	for addr, ins := range p.Instructions {
		fmt.Fprintf(&sb, "%d %s\n", addr, ins.String())
	}
	if len(p.Data) > 0 {
		sb.WriteString(".data\n")
		for _, word := range p.Data {
			fmt.Fprintf(&sb, "%d\n", word)
		}
	}
	return sb.String()
}
