package source

import "fmt"

// LocExpr is one instruction of a location program: a small stack machine
// whose final stack entry is the described location.
type LocExpr interface {
	fmt.Stringer
	isLocExpr()
}

// PushImm pushes an immediate integer.
type PushImm struct {
	Value int64
}

// PushReg pushes a register reference, resolved late by the interpreter.
type PushReg struct {
	Name string
}

// BaseOffset pushes the frame base register's value plus an offset, as an
// address.
type BaseOffset struct {
	Offset int64
}

// Add pops two operands and pushes their sum.
type Add struct{}

// Deref pops an address, reads one word from the debuggee at that address
// and pushes it as an immediate.
type Deref struct{}

func (PushImm) isLocExpr()    {}
func (PushReg) isLocExpr()    {}
func (BaseOffset) isLocExpr() {}
func (Add) isLocExpr()        {}
func (Deref) isLocExpr()      {}

func (e PushImm) String() string    { return fmt.Sprintf("push_imm %d", e.Value) }
func (e PushReg) String() string    { return fmt.Sprintf("push_reg %s", e.Name) }
func (e BaseOffset) String() string { return fmt.Sprintf("base_offset %d", e.Offset) }
func (Add) String() string          { return "add" }
func (Deref) String() string        { return "deref" }

// Location is the result of running a location program: the place where a
// value lives.
type Location interface {
	fmt.Stringer
	isLocation()
}

// RegisterLocation places the value in a register.
type RegisterLocation struct {
	Name string
}

// AddressLocation places the value in data memory.
type AddressLocation struct {
	Address uint64
}

// ImmediateLocation means the value is the given constant, it lives
// nowhere in the debuggee.
type ImmediateLocation struct {
	Value int64
}

func (RegisterLocation) isLocation()  {}
func (AddressLocation) isLocation()   {}
func (ImmediateLocation) isLocation() {}

func (l RegisterLocation) String() string  { return l.Name }
func (l AddressLocation) String() string   { return fmt.Sprintf("[%d]", l.Address) }
func (l ImmediateLocation) String() string { return fmt.Sprintf("%d", l.Value) }
