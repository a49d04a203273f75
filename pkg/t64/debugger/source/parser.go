package source

import (
	"io"
	"log/slog"
	"strings"

	"github.com/tiny64vm/tiny64/pkg/t64/parsing"
)

// DebuggingInfo is the result of parsing a debug-info file: whichever of
// the line mapping, the cached source text and the DIE tree the file
// provided.
type DebuggingInfo struct {
	LineMapping *LineMapping
	SourceFile  *SourceFile
	TopDIE      *DIE
}

// Parser parses the textual debugging information format: '.debug_line'
// with 'line: addr' entries, '.debug_source' with the source text as one
// string and '.debug_info' with a DIE tree. Unknown sections are skipped.
type Parser struct {
	lex *parsing.Lexer
	tok parsing.Token
}

// NewParser creates a debug-info parser over the given reader.
func NewParser(input io.Reader) (*Parser, error) {
	p := &Parser{lex: parsing.NewLexer(input)}
	if err := p.next(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStringParser creates a debug-info parser over the given text.
func NewStringParser(text string) (*Parser, error) {
	return NewParser(strings.NewReader(text))
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

// Parse consumes the whole input and returns the collected debug info.
func (p *Parser) Parse() (DebuggingInfo, error) {
	var info DebuggingInfo
	for p.tok.Kind != parsing.TokenEnd {
		if p.tok.Kind != parsing.TokenDot {
			return DebuggingInfo{}, p.errorf("expected section beginning with '.'")
		}
		if err := p.next(); err != nil {
			return DebuggingInfo{}, err
		}
		if p.tok.Kind != parsing.TokenID {
			return DebuggingInfo{}, p.errorf("expected section name")
		}
		name := p.tok.ID

		switch name {
		case "debug_line":
			if err := p.next(); err != nil {
				return DebuggingInfo{}, err
			}
			mapping, err := p.debugLine()
			if err != nil {
				return DebuggingInfo{}, err
			}
			info.LineMapping = mapping
		case "debug_source":
			if err := p.next(); err != nil {
				return DebuggingInfo{}, err
			}
			file, err := p.debugSource()
			if err != nil {
				return DebuggingInfo{}, err
			}
			info.SourceFile = file
		case "debug_info":
			if err := p.next(); err != nil {
				return DebuggingInfo{}, err
			}
			die, err := p.die()
			if err != nil {
				return DebuggingInfo{}, err
			}
			info.TopDIE = die
		default:
			slog.Info("skipping unknown debug section", "section", name)
			p.lex.SetIgnoreMode(true)
			for p.tok.Kind != parsing.TokenDot && p.tok.Kind != parsing.TokenEnd {
				if err := p.next(); err != nil {
					p.lex.SetIgnoreMode(false)
					return DebuggingInfo{}, err
				}
			}
			p.lex.SetIgnoreMode(false)
		}
	}
	return info, nil
}

// debugLine parses 'line: addr' entries until the next section.
func (p *Parser) debugLine() (*LineMapping, error) {
	entries := make(map[uint64]uint64)
	for p.tok.Kind != parsing.TokenDot && p.tok.Kind != parsing.TokenEnd {
		if p.tok.Kind != parsing.TokenNum {
			return nil, p.errorf("expected line entry in form 'line: addr'")
		}
		line := p.tok.Num
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind != parsing.TokenColon {
			return nil, p.errorf("expected ':' in line entry")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind != parsing.TokenNum {
			return nil, p.errorf("expected address in line entry")
		}
		entries[uint64(line)] = uint64(p.tok.Num)
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	return NewLineMapping(entries), nil
}

// debugSource parses the cached source text: a single string.
func (p *Parser) debugSource() (*SourceFile, error) {
	if p.tok.Kind != parsing.TokenString {
		return nil, p.errorf("expected the source text as a string")
	}
	file := NewSourceFile(p.tok.Str)
	if err := p.next(); err != nil {
		return nil, err
	}
	return file, nil
}

// die parses 'TAG { attr: value; ... child DIEs ... }'.
func (p *Parser) die() (*DIE, error) {
	if p.tok.Kind != parsing.TokenID {
		return nil, p.errorf("expected DIE tag")
	}
	tag, known := tagByName[p.tok.ID]
	if !known {
		return nil, p.errorf("unknown DIE tag %q", p.tok.ID)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind != parsing.TokenLBrace {
		return nil, p.errorf("expected '{' after DIE tag")
	}
	if err := p.next(); err != nil {
		return nil, err
	}

	var attrs []Attr
	var children []*DIE
	seen := make(map[string]bool)
	for p.tok.Kind != parsing.TokenRBrace {
		if p.tok.Kind != parsing.TokenID {
			return nil, p.errorf("expected attribute or child DIE")
		}
		if _, isTag := tagByName[p.tok.ID]; isTag {
			child, err := p.die()
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			continue
		}
		nameTok := p.tok
		attr, err := p.attribute()
		if err != nil {
			return nil, err
		}
		if seen[nameTok.ID] {
			return nil, parsing.Errorf(nameTok, "duplicate attribute %q", nameTok.ID)
		}
		seen[nameTok.ID] = true
		attrs = append(attrs, attr)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return NewDIE(tag, attrs, children), nil
}

// attribute parses 'name: value;'.
func (p *Parser) attribute() (Attr, error) {
	nameTok := p.tok
	name := p.tok.ID
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind != parsing.TokenColon {
		return nil, p.errorf("expected ':' after attribute name")
	}
	if err := p.next(); err != nil {
		return nil, err
	}

	var attr Attr
	switch name {
	case "name":
		value, err := p.nameValue()
		if err != nil {
			return nil, err
		}
		attr = AttrName{Name: value}
	case "id":
		value, err := p.numValue()
		if err != nil {
			return nil, err
		}
		attr = AttrID{ID: uint64(value)}
	case "begin_addr":
		value, err := p.numValue()
		if err != nil {
			return nil, err
		}
		attr = AttrBeginAddr{Addr: uint64(value)}
	case "end_addr":
		value, err := p.numValue()
		if err != nil {
			return nil, err
		}
		attr = AttrEndAddr{Addr: uint64(value)}
	case "size":
		value, err := p.numValue()
		if err != nil {
			return nil, err
		}
		attr = AttrSize{Size: uint64(value)}
	case "type":
		value, err := p.numValue()
		if err != nil {
			return nil, err
		}
		attr = AttrType{TypeID: uint64(value)}
	case "members":
		members, err := p.membersValue()
		if err != nil {
			return nil, err
		}
		attr = AttrMembers{Members: members}
	case "location":
		exprs, err := p.locationValue()
		if err != nil {
			return nil, err
		}
		attr = AttrLocation{Exprs: exprs}
	default:
		return nil, parsing.Errorf(nameTok, "unknown attribute %q", name)
	}

	if p.tok.Kind != parsing.TokenSemicolon {
		return nil, p.errorf("expected ';' after attribute value")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return attr, nil
}

func (p *Parser) nameValue() (string, error) {
	switch p.tok.Kind {
	case parsing.TokenString:
		value := p.tok.Str
		return value, p.next()
	case parsing.TokenID:
		value := p.tok.ID
		return value, p.next()
	default:
		return "", p.errorf("expected a name, got %s", p.tok.Kind)
	}
}

func (p *Parser) numValue() (int64, error) {
	if p.tok.Kind != parsing.TokenNum {
		return 0, p.errorf("expected a number, got %s", p.tok.Kind)
	}
	value := p.tok.Num
	return value, p.next()
}

// membersValue parses '[ { name: N; type: T; offset: O; }, ... ]'.
func (p *Parser) membersValue() ([]Member, error) {
	if p.tok.Kind != parsing.TokenLBracket {
		return nil, p.errorf("expected '[' to open the member list")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	var members []Member
	for p.tok.Kind != parsing.TokenRBracket {
		member, err := p.member()
		if err != nil {
			return nil, err
		}
		members = append(members, member)
		if p.tok.Kind == parsing.TokenComma {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	return members, p.next()
}

func (p *Parser) member() (Member, error) {
	if p.tok.Kind != parsing.TokenLBrace {
		return Member{}, p.errorf("expected '{' to open a member")
	}
	if err := p.next(); err != nil {
		return Member{}, err
	}
	var member Member
	seen := make(map[string]bool)
	for p.tok.Kind != parsing.TokenRBrace {
		if p.tok.Kind != parsing.TokenID {
			return Member{}, p.errorf("expected member attribute")
		}
		nameTok := p.tok
		field := p.tok.ID
		if seen[field] {
			return Member{}, parsing.Errorf(nameTok, "duplicate member attribute %q", field)
		}
		seen[field] = true
		if err := p.next(); err != nil {
			return Member{}, err
		}
		if p.tok.Kind != parsing.TokenColon {
			return Member{}, p.errorf("expected ':' after member attribute name")
		}
		if err := p.next(); err != nil {
			return Member{}, err
		}
		switch field {
		case "name":
			value, err := p.nameValue()
			if err != nil {
				return Member{}, err
			}
			member.Name = value
		case "type":
			value, err := p.numValue()
			if err != nil {
				return Member{}, err
			}
			member.TypeID = uint64(value)
		case "offset":
			value, err := p.numValue()
			if err != nil {
				return Member{}, err
			}
			member.Offset = value
		default:
			return Member{}, parsing.Errorf(nameTok, "unknown member attribute %q", field)
		}
		if p.tok.Kind != parsing.TokenSemicolon {
			return Member{}, p.errorf("expected ';' after member attribute")
		}
		if err := p.next(); err != nil {
			return Member{}, err
		}
	}
	return member, p.next()
}

// locationValue parses '[ push_imm N | push_reg R | base_offset N | add |
// deref, ... ]'.
func (p *Parser) locationValue() ([]LocExpr, error) {
	if p.tok.Kind != parsing.TokenLBracket {
		return nil, p.errorf("expected '[' to open the location program")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	var exprs []LocExpr
	for p.tok.Kind != parsing.TokenRBracket {
		expr, err := p.locExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
		if p.tok.Kind == parsing.TokenComma {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	return exprs, p.next()
}

func (p *Parser) locExpr() (LocExpr, error) {
	if p.tok.Kind != parsing.TokenID {
		return nil, p.errorf("expected location opcode")
	}
	opcode := p.tok.ID
	if err := p.next(); err != nil {
		return nil, err
	}
	switch opcode {
	case "push_imm":
		value, err := p.numValue()
		if err != nil {
			return nil, err
		}
		return PushImm{Value: value}, nil
	case "push_reg":
		if p.tok.Kind != parsing.TokenID {
			return nil, p.errorf("expected register name after push_reg")
		}
		name := p.tok.ID
		return PushReg{Name: name}, p.next()
	case "base_offset":
		value, err := p.numValue()
		if err != nil {
			return nil, err
		}
		return BaseOffset{Offset: value}, nil
	case "add":
		return Add{}, nil
	case "deref":
		return Deref{}, nil
	default:
		return nil, p.errorf("unknown location opcode %q", opcode)
	}
}
