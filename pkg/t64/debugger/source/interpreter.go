package source

import (
	"errors"
	"fmt"
)

// ErrInterpret is the sentinel wrapped by every error of the location
// interpreter. The source layer matches it with errors.Is and reports the
// location as unavailable.
var ErrInterpret = errors.New("interpret error")

// interpretErrorf builds an error of the interpreter kind. The format may
// use %w to chain an underlying cause on top of the ErrInterpret
// sentinel.
func interpretErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInterpret}, args...)...)
}

// NativeReader is the slice of the native control layer the location
// interpreter needs: register reads and debuggee memory reads.
type NativeReader interface {
	GetRegister(name string) (int64, error)
	ReadMemory(address, amount uint64) ([]int64, error)
	FrameBaseRegister() string
}

// InterpretLocation runs a location program against the debuggee and
// returns the resulting location. The scratch stack lives only for this
// invocation; a well-formed program leaves exactly one operand on it.
func InterpretLocation(exprs []LocExpr, native NativeReader) (Location, error) {
	vm := locInterpreter{native: native}
	for _, expr := range exprs {
		if err := vm.step(expr); err != nil {
			return nil, err
		}
	}
	if len(vm.stack) == 0 {
		return nil, interpretErrorf("empty stack at the end of calculation")
	}
	if len(vm.stack) > 1 {
		return nil, interpretErrorf("%d operands left on the stack, expected one", len(vm.stack))
	}
	return vm.stack[0], nil
}

type locInterpreter struct {
	native NativeReader
	stack  []Location
}

func (vm *locInterpreter) push(loc Location) {
	vm.stack = append(vm.stack, loc)
}

func (vm *locInterpreter) pop() (Location, error) {
	if len(vm.stack) == 0 {
		return nil, interpretErrorf("stack underflow")
	}
	top := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return top, nil
}

func (vm *locInterpreter) step(expr LocExpr) error {
	switch expr := expr.(type) {
	case PushImm:
		vm.push(ImmediateLocation{Value: expr.Value})
	case PushReg:
		vm.push(RegisterLocation{Name: expr.Name})
	case BaseOffset:
		base, err := vm.native.GetRegister(vm.native.FrameBaseRegister())
		if err != nil {
			return interpretErrorf("reading frame base: %w", err)
		}
		vm.push(AddressLocation{Address: uint64(base + expr.Offset)})
	case Add:
		rhs, err := vm.pop()
		if err != nil {
			return err
		}
		lhs, err := vm.pop()
		if err != nil {
			return err
		}
		sum, err := addOperands(lhs, rhs)
		if err != nil {
			return err
		}
		vm.push(sum)
	case Deref:
		top, err := vm.pop()
		if err != nil {
			return err
		}
		addr, isAddr := top.(AddressLocation)
		if !isAddr {
			return interpretErrorf("deref needs an address, got %s", top)
		}
		words, err := vm.native.ReadMemory(addr.Address, 1)
		if err != nil {
			return interpretErrorf("reading debuggee memory at %d: %w", addr.Address, err)
		}
		vm.push(ImmediateLocation{Value: words[0]})
	default:
		return interpretErrorf("unknown location opcode %s", expr)
	}
	return nil
}

// addOperands adds two stack operands. Immediates add freely and shift
// addresses; register references must be resolved before they can take
// part in arithmetic.
func addOperands(lhs, rhs Location) (Location, error) {
	switch lhs := lhs.(type) {
	case ImmediateLocation:
		switch rhs := rhs.(type) {
		case ImmediateLocation:
			return ImmediateLocation{Value: lhs.Value + rhs.Value}, nil
		case AddressLocation:
			return AddressLocation{Address: uint64(lhs.Value) + rhs.Address}, nil
		}
	case AddressLocation:
		if rhs, isImm := rhs.(ImmediateLocation); isImm {
			return AddressLocation{Address: lhs.Address + uint64(rhs.Value)}, nil
		}
	}
	return nil, interpretErrorf("cannot add %s and %s", lhs, rhs)
}
