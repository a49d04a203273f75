package asm

import (
	"fmt"
	"strings"
)

// Opcode is an instruction mnemonic.
type Opcode string

const (
	OpMOV Opcode = "MOV"
	OpLEA Opcode = "LEA"

	OpADD  Opcode = "ADD"
	OpSUB  Opcode = "SUB"
	OpMUL  Opcode = "MUL"
	OpDIV  Opcode = "DIV"
	OpIMUL Opcode = "IMUL"
	OpIDIV Opcode = "IDIV"
	OpAND  Opcode = "AND"
	OpOR   Opcode = "OR"
	OpXOR  Opcode = "XOR"
	OpLSH  Opcode = "LSH"
	OpRSH  Opcode = "RSH"
	OpCMP  Opcode = "CMP"
	OpLOOP Opcode = "LOOP"

	OpFADD Opcode = "FADD"
	OpFSUB Opcode = "FSUB"
	OpFMUL Opcode = "FMUL"
	OpFDIV Opcode = "FDIV"
	OpFCMP Opcode = "FCMP"
	OpEXT  Opcode = "EXT"
	OpNRW  Opcode = "NRW"

	OpINC     Opcode = "INC"
	OpDEC     Opcode = "DEC"
	OpNEG     Opcode = "NEG"
	OpNOT     Opcode = "NOT"
	OpPOP     Opcode = "POP"
	OpFPOP    Opcode = "FPOP"
	OpPUTCHAR Opcode = "PUTCHAR"
	OpPUTNUM  Opcode = "PUTNUM"
	OpGETCHAR Opcode = "GETCHAR"

	OpJMP  Opcode = "JMP"
	OpJZ   Opcode = "JZ"
	OpJNZ  Opcode = "JNZ"
	OpJE   Opcode = "JE"
	OpJNE  Opcode = "JNE"
	OpJG   Opcode = "JG"
	OpJGE  Opcode = "JGE"
	OpJL   Opcode = "JL"
	OpJLE  Opcode = "JLE"
	OpJA   Opcode = "JA"
	OpJAE  Opcode = "JAE"
	OpJB   Opcode = "JB"
	OpJBE  Opcode = "JBE"
	OpJO   Opcode = "JO"
	OpJNO  Opcode = "JNO"
	OpJS   Opcode = "JS"
	OpJNS  Opcode = "JNS"
	OpCALL Opcode = "CALL"
	OpPUSH Opcode = "PUSH"
	OpFPUSH Opcode = "FPUSH"

	OpHALT  Opcode = "HALT"
	OpNOP   Opcode = "NOP"
	OpBKPT  Opcode = "BKPT"
	OpBREAK Opcode = "BREAK"
	OpRET   Opcode = "RET"
)

// Instruction is one decoded machine instruction: an opcode and zero to
// two operands, already validated against the opcode's operand forms.
type Instruction struct {
	Opcode   Opcode
	Operands []Operand
}

// String renders the instruction in its canonical text form, which the
// parser accepts back.
func (ins Instruction) String() string {
	if len(ins.Operands) == 0 {
		return string(ins.Opcode)
	}
	ops := make([]string, len(ins.Operands))
	for i, op := range ins.Operands {
		ops[i] = op.String()
	}
	return fmt.Sprintf("%s %s", ins.Opcode, strings.Join(ops, ", "))
}

// operandClass is a bitmask of operand form groups used by the
// per-instruction validation tables.
type operandClass uint

const (
	classImm operandClass = 1 << iota
	classReg
	classRegImm
	classFloatImm
	classFloatReg
	classMemImm
	classMemReg
	classMemRegImm
	classMemComplex // the [R+R], [R*i], ... forms

	classSimpleMemory = classMemImm | classMemReg | classMemRegImm
)

func classOf(op Operand) operandClass {
	switch op.(type) {
	case Imm:
		return classImm
	case Reg:
		return classReg
	case RegImm:
		return classRegImm
	case FloatImm:
		return classFloatImm
	case FloatReg:
		return classFloatReg
	case MemImm:
		return classMemImm
	case MemReg:
		return classMemReg
	case MemRegImm:
		return classMemRegImm
	default:
		return classMemComplex
	}
}

// operandForms lists the allowed operand classes per position for every
// opcode except MOV and LEA, whose operand relationships are validated
// separately.
var operandForms = map[Opcode][]operandClass{
	OpADD:  {classReg, classImm | classReg | classSimpleMemory},
	OpSUB:  {classReg, classImm | classReg | classSimpleMemory},
	OpMUL:  {classReg, classImm | classReg | classSimpleMemory},
	OpDIV:  {classReg, classImm | classReg | classSimpleMemory},
	OpIMUL: {classReg, classImm | classReg | classSimpleMemory},
	OpIDIV: {classReg, classImm | classReg | classSimpleMemory},
	OpAND:  {classReg, classImm | classReg | classSimpleMemory},
	OpOR:   {classReg, classImm | classReg | classSimpleMemory},
	OpXOR:  {classReg, classImm | classReg | classSimpleMemory},
	OpLSH:  {classReg, classImm | classReg | classSimpleMemory},
	OpRSH:  {classReg, classImm | classReg | classSimpleMemory},
	OpCMP:  {classReg, classImm | classReg | classSimpleMemory},
	OpLOOP: {classReg, classImm | classReg},

	OpFADD: {classFloatReg, classFloatImm | classFloatReg},
	OpFSUB: {classFloatReg, classFloatImm | classFloatReg},
	OpFMUL: {classFloatReg, classFloatImm | classFloatReg},
	OpFDIV: {classFloatReg, classFloatImm | classFloatReg},
	OpFCMP: {classFloatReg, classFloatImm | classFloatReg},
	OpEXT:  {classFloatReg, classReg},
	OpNRW:  {classReg, classFloatReg},

	OpINC:     {classReg},
	OpDEC:     {classReg},
	OpNEG:     {classReg},
	OpNOT:     {classReg},
	OpPOP:     {classReg},
	OpFPOP:    {classFloatReg},
	OpPUTCHAR: {classReg},
	OpPUTNUM:  {classReg},
	OpGETCHAR: {classReg},

	OpJMP:   {classImm | classReg},
	OpJZ:    {classImm | classReg | classSimpleMemory},
	OpJNZ:   {classImm | classReg | classSimpleMemory},
	OpJE:    {classImm | classReg | classSimpleMemory},
	OpJNE:   {classImm | classReg | classSimpleMemory},
	OpJG:    {classImm | classReg | classSimpleMemory},
	OpJGE:   {classImm | classReg | classSimpleMemory},
	OpJL:    {classImm | classReg | classSimpleMemory},
	OpJLE:   {classImm | classReg | classSimpleMemory},
	OpJA:    {classImm | classReg | classSimpleMemory},
	OpJAE:   {classImm | classReg | classSimpleMemory},
	OpJB:    {classImm | classReg | classSimpleMemory},
	OpJBE:   {classImm | classReg | classSimpleMemory},
	OpJO:    {classImm | classReg | classSimpleMemory},
	OpJNO:   {classImm | classReg | classSimpleMemory},
	OpJS:    {classImm | classReg | classSimpleMemory},
	OpJNS:   {classImm | classReg | classSimpleMemory},
	OpCALL:  {classImm | classReg},
	OpPUSH:  {classImm | classReg},
	OpFPUSH: {classFloatImm | classFloatReg},

	OpHALT:  {},
	OpNOP:   {},
	OpBKPT:  {},
	OpBREAK: {},
	OpRET:   {},
}

// IsCall reports whether the opcode transfers control into a function.
func IsCall(op Opcode) bool { return op == OpCALL }

// IsReturn reports whether the opcode exits a function.
func IsReturn(op Opcode) bool { return op == OpRET }
