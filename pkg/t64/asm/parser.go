// Package asm parses the textual assembly of the tiny64 machine into the
// in-memory program consumed by the execution engine and the debugger.
//
// A program file is a sequence of sections introduced by '.name'. The
// 'text' section holds one instruction per line, optionally prefixed by a
// numeric address which is ignored (instruction addresses are positional).
// The 'data' section holds interleaved string and numeric literals.
// Sections whose name starts with 'debug_' belong to the debugging
// information parser and end the assembly parse; other unknown sections
// are skipped.
package asm

import (
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tiny64vm/tiny64/pkg/t64/parsing"
)

// Parser parses a tiny64 assembly file.
type Parser struct {
	lex *parsing.Lexer
	tok parsing.Token

	instructions []Instruction
	data         []int64
}

// NewParser creates a parser over the given reader. It fails with the
// lexer's error if the input does not even start with a valid token.
func NewParser(input io.Reader) (*Parser, error) {
	p := &Parser{lex: parsing.NewLexer(input)}
	if err := p.next(); err != nil {
		return nil, err
	}
	return p, nil
}

// Parse consumes the whole input and returns the parsed program. Parsing
// stops early, without error, at the first 'debug_*' section, which is
// owned by the debug-info parser.
func (p *Parser) Parse() (Program, error) {
	if p.tok.Kind != parsing.TokenDot {
		return Program{}, p.errorf("file does not contain any sections")
	}
	for p.tok.Kind == parsing.TokenDot {
		if err := p.next(); err != nil {
			return Program{}, err
		}
		if p.tok.Kind == parsing.TokenID && strings.HasPrefix(p.tok.ID, "debug_") {
			return Program{Instructions: p.instructions, Data: p.data}, nil
		}
		if err := p.section(); err != nil {
			return Program{}, err
		}
	}
	if err := p.checkEnd(); err != nil {
		return Program{}, err
	}
	return Program{Instructions: p.instructions, Data: p.data}, nil
}

// ParseInstructionText parses a single instruction given as text, such as
// an entry read back from the debuggee's text memory.
func ParseInstructionText(text string) (Instruction, error) {
	p, err := NewParser(strings.NewReader(text))
	if err != nil {
		return Instruction{}, err
	}
	ins, err := p.instruction()
	if err != nil {
		return Instruction{}, err
	}
	if err := p.checkEnd(); err != nil {
		return Instruction{}, err
	}
	return ins, nil
}

func (p *Parser) next() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return parsing.Errorf(p.tok, format, args...)
}

func (p *Parser) checkEnd() error {
	if p.tok.Kind != parsing.TokenEnd {
		return p.errorf("input left unparsed; this is usually caused by an operand form the previous instruction does not accept")
	}
	return nil
}

func (p *Parser) section() error {
	if p.tok.Kind != parsing.TokenID {
		return p.errorf("expected section name after '.'")
	}
	name := p.tok.ID
	switch name {
	case "text":
		if err := p.next(); err != nil {
			return err
		}
		return p.text()
	case "data":
		if err := p.next(); err != nil {
			return err
		}
		return p.dataSection()
	default:
		slog.Info("skipping unknown section", "section", name)
		p.lex.SetIgnoreMode(true)
		defer p.lex.SetIgnoreMode(false)
		for p.tok.Kind != parsing.TokenDot && p.tok.Kind != parsing.TokenEnd {
			if err := p.next(); err != nil {
				return err
			}
		}
		return nil
	}
}

func (p *Parser) text() error {
	for p.tok.Kind == parsing.TokenNum || p.tok.Kind == parsing.TokenID {
		ins, err := p.instruction()
		if err != nil {
			return err
		}
		p.instructions = append(p.instructions, ins)
	}
	return nil
}

func (p *Parser) dataSection() error {
	for {
		switch p.tok.Kind {
		case parsing.TokenString:
			for _, b := range []byte(p.tok.Str) {
				p.data = append(p.data, int64(b))
			}
			p.data = append(p.data, 0)
			if err := p.next(); err != nil {
				return err
			}
		case parsing.TokenNum:
			p.data = append(p.data, p.tok.Num)
			if err := p.next(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *Parser) instruction() (Instruction, error) {
	// An optional numeric address prefix is ignored, addresses are
	// positional.
	if p.tok.Kind == parsing.TokenNum {
		if err := p.next(); err != nil {
			return Instruction{}, err
		}
	}
	if p.tok.Kind != parsing.TokenID {
		return Instruction{}, p.errorf("expected instruction mnemonic")
	}
	mnemonic := Opcode(p.tok.ID)
	mnemonicTok := p.tok
	if err := p.next(); err != nil {
		return Instruction{}, err
	}

	var ins Instruction
	var err error
	switch mnemonic {
	case OpMOV:
		ins, err = p.parseMOV()
	case OpLEA:
		ins, err = p.parseLEA()
	default:
		forms, known := operandForms[mnemonic]
		if !known {
			return Instruction{}, parsing.Errorf(mnemonicTok, "unknown instruction %s", mnemonic)
		}
		ins, err = p.parseFromTable(mnemonic, forms)
	}
	if err != nil {
		return Instruction{}, err
	}

	// A trailing semicolon is tolerated, never required.
	if p.tok.Kind == parsing.TokenSemicolon {
		if err := p.next(); err != nil {
			return Instruction{}, err
		}
	}
	return ins, nil
}

func (p *Parser) parseFromTable(mnemonic Opcode, forms []operandClass) (Instruction, error) {
	ins := Instruction{Opcode: mnemonic}
	for i, allowed := range forms {
		if i > 0 {
			if p.tok.Kind != parsing.TokenComma {
				return Instruction{}, p.errorf("expected ',' between %s operands", mnemonic)
			}
			if err := p.next(); err != nil {
				return Instruction{}, err
			}
		}
		opTok := p.tok
		op, err := p.operand()
		if err != nil {
			return Instruction{}, err
		}
		if classOf(op)&allowed == 0 {
			return Instruction{}, parsing.Errorf(opTok,
				"%s does not accept '%s' as operand %d", mnemonic, op, i+1)
		}
		ins.Operands = append(ins.Operands, op)
	}
	return ins, nil
}

// parseMOV handles MOV, which accepts the full operand grammar on both
// sides but with restrictive relationships between the two.
func (p *Parser) parseMOV() (Instruction, error) {
	dstTok := p.tok
	dst, err := p.operand()
	if err != nil {
		return Instruction{}, err
	}
	if p.tok.Kind != parsing.TokenComma {
		return Instruction{}, p.errorf("expected ',' between MOV operands")
	}
	if err := p.next(); err != nil {
		return Instruction{}, err
	}
	srcTok := p.tok
	src, err := p.operand()
	if err != nil {
		return Instruction{}, err
	}

	switch dst.(type) {
	case Imm, FloatImm, RegImm:
		return Instruction{}, parsing.Errorf(dstTok, "MOV cannot have '%s' as destination", dst)
	case Reg:
		switch src.(type) {
		case RegImm:
			return Instruction{}, parsing.Errorf(srcTok, "MOV cannot have R + i as source when destination is R")
		case FloatImm:
			return Instruction{}, parsing.Errorf(srcTok, "MOV cannot load a float immediate into R, use a float register")
		}
	case FloatReg:
		switch src.(type) {
		case FloatImm, FloatReg, Reg, MemImm, MemReg:
		default:
			return Instruction{}, parsing.Errorf(srcTok,
				"MOV to F only accepts f, F, R, [i] or [R] as source, got '%s'", src)
		}
	default: // memory destination
		switch src.(type) {
		case Reg, FloatReg, Imm:
		default:
			return Instruction{}, parsing.Errorf(srcTok,
				"MOV to memory only accepts R, F or i as source, got '%s'", src)
		}
	}
	return Instruction{Opcode: OpMOV, Operands: []Operand{dst, src}}, nil
}

// parseLEA handles LEA, whose source must be a memory form computing an
// address: [i] and [R] are rejected since they compute nothing.
func (p *Parser) parseLEA() (Instruction, error) {
	dst, err := p.register()
	if err != nil {
		return Instruction{}, err
	}
	if p.tok.Kind != parsing.TokenComma {
		return Instruction{}, p.errorf("expected ',' between LEA operands")
	}
	if err := p.next(); err != nil {
		return Instruction{}, err
	}
	srcTok := p.tok
	src, err := p.operand()
	if err != nil {
		return Instruction{}, err
	}
	if !IsMemory(src) {
		return Instruction{}, parsing.Errorf(srcTok, "LEA source must be a memory operand, got '%s'", src)
	}
	switch src.(type) {
	case MemImm, MemReg:
		return Instruction{}, parsing.Errorf(srcTok, "LEA does not support [R] or [i]")
	}
	return Instruction{Opcode: OpLEA, Operands: []Operand{Reg{dst}, src}}, nil
}

// operand parses one operand of the full grammar: immediates (integer and
// float), registers (integer and float), R + i and every memory form.
func (p *Parser) operand() (Operand, error) {
	switch p.tok.Kind {
	case parsing.TokenLBracket:
		return p.memory()
	case parsing.TokenNum:
		val := p.tok.Num
		if err := p.next(); err != nil {
			return nil, err
		}
		return Imm{Value: val}, nil
	case parsing.TokenFloat:
		val := p.tok.Float
		if err := p.next(); err != nil {
			return nil, err
		}
		return FloatImm{Value: val}, nil
	case parsing.TokenID:
		if isFloatRegisterName(p.tok.ID) {
			reg, err := p.floatRegister()
			if err != nil {
				return nil, err
			}
			return FloatReg{reg}, nil
		}
		reg, err := p.register()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind == parsing.TokenPlus {
			if err := p.next(); err != nil {
				return nil, err
			}
			imm, err := p.imm()
			if err != nil {
				return nil, err
			}
			return RegImm{Reg: reg, Imm: imm}, nil
		}
		return Reg{reg}, nil
	default:
		return nil, p.errorf("expected an operand, got %s", p.tok.Kind)
	}
}

// memory parses [i], [R], [R + i], [R + R], [R * i], [R + R * i],
// [R + i + R] and [R + i + R * i]. The opening bracket is the current
// token.
func (p *Parser) memory() (Operand, error) {
	if p.tok.Kind != parsing.TokenLBracket {
		return nil, p.errorf("expected '['")
	}
	if err := p.next(); err != nil {
		return nil, err
	}

	var result Operand
	switch {
	case p.tok.Kind == parsing.TokenNum:
		result = MemImm{Addr: p.tok.Num}
		if err := p.next(); err != nil {
			return nil, err
		}
	case p.tok.Kind == parsing.TokenID:
		base, err := p.register()
		if err != nil {
			return nil, err
		}
		switch p.tok.Kind {
		case parsing.TokenPlus:
			if err := p.next(); err != nil {
				return nil, err
			}
			result, err = p.memoryTail(base)
			if err != nil {
				return nil, err
			}
		case parsing.TokenTimes:
			if err := p.next(); err != nil {
				return nil, err
			}
			scale, err := p.imm()
			if err != nil {
				return nil, err
			}
			result = MemRegScaled{Index: base, Scale: scale}
		default:
			result = MemReg{Reg: base}
		}
	default:
		return nil, p.errorf("expected register or immediate inside '[ ]'")
	}

	if p.tok.Kind != parsing.TokenRBracket {
		return nil, p.errorf("expected ']'")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return result, nil
}

// memoryTail parses what follows 'base +' inside a memory operand:
// i, i + R, i + R * s, R and R * s.
func (p *Parser) memoryTail(base Register) (Operand, error) {
	switch p.tok.Kind {
	case parsing.TokenNum:
		imm := p.tok.Num
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind != parsing.TokenPlus {
			return MemRegImm{Reg: base, Imm: imm}, nil
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		index, err := p.register()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != parsing.TokenTimes {
			return MemRegImmReg{Base: base, Imm: imm, Index: index}, nil
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		scale, err := p.imm()
		if err != nil {
			return nil, err
		}
		return MemRegImmRegScaled{Base: base, Imm: imm, Index: index, Scale: scale}, nil
	case parsing.TokenID:
		index, err := p.register()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != parsing.TokenTimes {
			return MemRegReg{Base: base, Index: index}, nil
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		scale, err := p.imm()
		if err != nil {
			return nil, err
		}
		return MemRegRegScaled{Base: base, Index: index, Scale: scale}, nil
	default:
		return nil, p.errorf("expected register or immediate after '+'")
	}
}

func (p *Parser) imm() (int64, error) {
	if p.tok.Kind != parsing.TokenNum {
		return 0, p.errorf("expected immediate, got %s", p.tok.Kind)
	}
	val := p.tok.Num
	if err := p.next(); err != nil {
		return 0, err
	}
	return val, nil
}

func (p *Parser) register() (Register, error) {
	if p.tok.Kind != parsing.TokenID {
		return "", p.errorf("expected register name, got %s", p.tok.Kind)
	}
	name := p.tok.ID
	switch {
	case name == "BP" || name == "SP" || name == "IP":
	case isGPRegisterName(name):
	default:
		return "", p.errorf("registers must be R<n>, BP, SP or IP, got %q", name)
	}
	if err := p.next(); err != nil {
		return "", err
	}
	return Register(name), nil
}

func (p *Parser) floatRegister() (FloatRegister, error) {
	if p.tok.Kind != parsing.TokenID || !isFloatRegisterName(p.tok.ID) {
		return "", p.errorf("expected float register name F<n>")
	}
	name := p.tok.ID
	if err := p.next(); err != nil {
		return "", err
	}
	return FloatRegister(name), nil
}

func isGPRegisterName(name string) bool {
	if len(name) < 2 || name[0] != 'R' {
		return false
	}
	_, err := strconv.Atoi(name[1:])
	return err == nil
}

func isFloatRegisterName(name string) bool {
	if len(name) < 2 || name[0] != 'F' {
		return false
	}
	_, err := strconv.Atoi(name[1:])
	return err == nil
}
