package debugger

import (
	"fmt"
	"math/bits"
	"strings"
)

// Arch is the capability record describing the debugged architecture. The
// process interface implementation decides which record to supply; the
// native control never hardcodes machine specifics.
type Arch struct {
	// TrapOpcode is the text of the instruction that transfers control
	// to the debugger when executed.
	TrapOpcode string
	// IPName and BPName are the canonical names of the program counter
	// and the frame base register.
	IPName string
	BPName string
	// DebugRegisterCount is the number of address debug registers. One
	// extra control register follows them.
	DebugRegisterCount int
	// HardwareSinglestep and HardwareWatchpoints flag hardware support
	// for the respective operations.
	HardwareSinglestep  bool
	HardwareWatchpoints bool
	// CallOpcodes and ReturnOpcodes are the mnemonics that enter and
	// leave functions.
	CallOpcodes   []string
	ReturnOpcodes []string
}

// Tiny64 returns the capability record of the tiny64 machine: trap opcode
// BKPT, four address debug registers D0..D3 with control register D4, and
// full hardware stepping support.
func Tiny64() Arch {
	return Arch{
		TrapOpcode:          "BKPT",
		IPName:              "IP",
		BPName:              "BP",
		DebugRegisterCount:  4,
		HardwareSinglestep:  true,
		HardwareWatchpoints: true,
		CallOpcodes:         []string{"CALL"},
		ReturnOpcodes:       []string{"RET"},
	}
}

// DebugRegisterName returns the name of the idx-th address debug register.
func (a Arch) DebugRegisterName(idx int) string {
	return fmt.Sprintf("D%d", idx)
}

// ControlRegisterName returns the name of the debug control register.
func (a Arch) ControlRegisterName() string {
	return fmt.Sprintf("D%d", a.DebugRegisterCount)
}

// SetDebugRegister stores address into the idx-th debug register of regs.
func (a Arch) SetDebugRegister(idx int, address uint64, regs map[string]uint64) error {
	if idx < 0 || idx >= a.DebugRegisterCount {
		return Errorf("debug register index %d out of bounds", idx)
	}
	regs[a.DebugRegisterName(idx)] = address
	return nil
}

// ActivateDebugRegister turns on the idx-th debug register in the control
// register. The low DebugRegisterCount bits hold the active flags.
func (a Arch) ActivateDebugRegister(idx int, regs map[string]uint64) error {
	if idx < 0 || idx >= a.DebugRegisterCount {
		return Errorf("debug register index %d out of bounds", idx)
	}
	regs[a.ControlRegisterName()] |= 1 << idx
	return nil
}

// DeactivateDebugRegister turns off the idx-th debug register in the
// control register.
func (a Arch) DeactivateDebugRegister(idx int, regs map[string]uint64) error {
	if idx < 0 || idx >= a.DebugRegisterCount {
		return Errorf("debug register index %d out of bounds", idx)
	}
	regs[a.ControlRegisterName()] &^= 1 << idx
	return nil
}

// ResponsibleRegister decodes which debug register caused a hardware
// break. The control register holds the triggered index as a one-hot mask
// in bits 8 and up.
func (a Arch) ResponsibleRegister(regs map[string]uint64) (int, error) {
	control, ok := regs[a.ControlRegisterName()]
	if !ok {
		return 0, Errorf("no control register %q in debug registers", a.ControlRegisterName())
	}
	masked := (control & 0xFF00) >> 8
	if masked == 0 {
		return 0, Errorf("no debug register is marked as triggered")
	}
	idx := bits.Len64(masked) - 1
	if idx >= a.DebugRegisterCount {
		return 0, Errorf("triggered debug register %d out of bounds", idx)
	}
	return idx, nil
}

// IsCallInstruction reports whether the instruction text starts a call.
func (a Arch) IsCallInstruction(text string) bool {
	return hasOpcodePrefix(text, a.CallOpcodes)
}

// IsReturnInstruction reports whether the instruction text leaves a
// function.
func (a Arch) IsReturnInstruction(text string) bool {
	return hasOpcodePrefix(text, a.ReturnOpcodes)
}

func hasOpcodePrefix(text string, opcodes []string) bool {
	for _, op := range opcodes {
		if strings.HasPrefix(text, op) {
			return true
		}
	}
	return false
}
