package source

import "fmt"

// PrimitiveKind classifies primitive types.
type PrimitiveKind int

const (
	PrimitiveSigned PrimitiveKind = iota
	PrimitiveUnsigned
	PrimitiveFloat
	PrimitiveChar
	PrimitiveBool
)

// primitiveKindByName resolves a primitive type DIE's name. Unknown names
// yield no type.
var primitiveKindByName = map[string]PrimitiveKind{
	"int":          PrimitiveSigned,
	"signed_int":   PrimitiveSigned,
	"unsigned_int": PrimitiveUnsigned,
	"float":        PrimitiveFloat,
	"char":         PrimitiveChar,
	"bool":         PrimitiveBool,
}

// String returns the kind's display name.
func (k PrimitiveKind) String() string {
	switch k {
	case PrimitiveSigned:
		return "int"
	case PrimitiveUnsigned:
		return "unsigned"
	case PrimitiveFloat:
		return "float"
	case PrimitiveChar:
		return "char"
	case PrimitiveBool:
		return "bool"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Type is the sum of reconstructed type information.
type Type interface {
	fmt.Stringer
	isType()
	// Size returns the type's size in words.
	Size() uint64
}

// PrimitiveType is a builtin scalar type.
type PrimitiveType struct {
	Kind  PrimitiveKind
	Width uint64
}

// StructMember is one reconstructed member of a structured type. Type is
// nil when the member's type information is unavailable.
type StructMember struct {
	Name   string
	Offset int64
	Type   Type
}

// StructuredType is a record type with named members.
type StructuredType struct {
	Name    string
	Width   uint64
	Members []StructMember
}

// PointerType points at the type identified by PointeeID. The pointee is
// referenced by id, not embedded, which keeps self-referential types
// finite.
type PointerType struct {
	PointeeID   uint64
	PointeeName string
	Width       uint64
}

func (PrimitiveType) isType()  {}
func (StructuredType) isType() {}
func (PointerType) isType()    {}

func (t PrimitiveType) Size() uint64  { return t.Width }
func (t StructuredType) Size() uint64 { return t.Width }
func (t PointerType) Size() uint64    { return t.Width }

func (t PrimitiveType) String() string  { return t.Kind.String() }
func (t StructuredType) String() string { return t.Name }
func (t PointerType) String() string    { return t.PointeeName + "*" }
