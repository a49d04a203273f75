// Package source implements the source/debug-info layer of the tiny64
// debugger: it parses the textual debugging information into a tree of
// debug information entries, reconstructs type information, resolves
// variable locations and maps source lines onto instruction addresses.
package source

import "fmt"

// Tag identifies the kind of a debug information entry.
type Tag int

const (
	TagCompileUnit Tag = iota
	TagFunction
	TagScope
	TagVariable
	TagPrimitiveType
	TagStructuredType
	TagPointerType
)

// String returns the tag's canonical name in the textual format.
func (t Tag) String() string {
	switch t {
	case TagCompileUnit:
		return "compile_unit"
	case TagFunction:
		return "function"
	case TagScope:
		return "scope"
	case TagVariable:
		return "variable"
	case TagPrimitiveType:
		return "primitive_type"
	case TagStructuredType:
		return "structured_type"
	case TagPointerType:
		return "pointer_type"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// tagByName maps the textual tag names onto Tag values. 'compile_unit'
// is the canonical spelling; the longer 'compilation_unit' is accepted as
// an alias since existing debug-info producers emit it.
var tagByName = map[string]Tag{
	"compile_unit":     TagCompileUnit,
	"compilation_unit": TagCompileUnit,
	"function":         TagFunction,
	"scope":            TagScope,
	"variable":         TagVariable,
	"primitive_type":   TagPrimitiveType,
	"structured_type":  TagStructuredType,
	"pointer_type":     TagPointerType,
}

// Attr is the sum of attributes a DIE may carry. Each concrete attribute
// may appear at most once per DIE.
type Attr interface {
	isAttr()
}

// AttrName is the entity's source-level name.
type AttrName struct {
	Name string
}

// AttrID is the DIE's unique identifier, referenced by type attributes.
type AttrID struct {
	ID uint64
}

// AttrBeginAddr is the first text address of the entity's range.
type AttrBeginAddr struct {
	Addr uint64
}

// AttrEndAddr is one past the last text address of the entity's range.
type AttrEndAddr struct {
	Addr uint64
}

// AttrSize is the entity's size in words.
type AttrSize struct {
	Size uint64
}

// AttrType references the DIE describing the entity's type.
type AttrType struct {
	TypeID uint64
}

// Member is one member of a structured type.
type Member struct {
	Name   string
	TypeID uint64
	Offset int64
}

// AttrMembers lists the members of a structured type.
type AttrMembers struct {
	Members []Member
}

// AttrLocation is the location program computing the entity's location.
type AttrLocation struct {
	Exprs []LocExpr
}

func (AttrName) isAttr()      {}
func (AttrID) isAttr()        {}
func (AttrBeginAddr) isAttr() {}
func (AttrEndAddr) isAttr()   {}
func (AttrSize) isAttr()      {}
func (AttrType) isAttr()      {}
func (AttrMembers) isAttr()   {}
func (AttrLocation) isAttr()  {}

// DIE is one debug information entry: a tag, a set of attributes and an
// ordered list of children. Each DIE owns its children; references handed
// out to callers are read-only borrows valid until the next debug-info
// load.
type DIE struct {
	tag      Tag
	attrs    []Attr
	children []*DIE
}

// NewDIE builds a debug information entry.
func NewDIE(tag Tag, attrs []Attr, children []*DIE) *DIE {
	return &DIE{tag: tag, attrs: attrs, children: children}
}

// Tag returns the entry's tag.
func (d *DIE) Tag() Tag {
	return d.tag
}

// Children returns the entry's children, in order.
func (d *DIE) Children() []*DIE {
	return d.children
}

// Attributes returns the entry's attributes.
func (d *DIE) Attributes() []Attr {
	return d.attrs
}

// FindAttribute returns the DIE's attribute of type A, if present.
func FindAttribute[A Attr](die *DIE) (A, bool) {
	for _, attr := range die.attrs {
		if found, ok := attr.(A); ok {
			return found, true
		}
	}
	var zero A
	return zero, false
}

// FindDIEByID searches the tree under die for the entry with the given
// id. IDs are unique, the first match wins.
func FindDIEByID(die *DIE, id uint64) *DIE {
	if attr, ok := FindAttribute[AttrID](die); ok && attr.ID == id {
		return die
	}
	for _, child := range die.children {
		if found := FindDIEByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

// ContainsAddress reports whether the DIE's [begin_addr, end_addr) range
// contains the address. Entries without a complete range contain nothing.
func (d *DIE) ContainsAddress(address uint64) bool {
	begin, hasBegin := FindAttribute[AttrBeginAddr](d)
	end, hasEnd := FindAttribute[AttrEndAddr](d)
	return hasBegin && hasEnd && begin.Addr <= address && address < end.Addr
}
