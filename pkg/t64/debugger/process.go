package debugger

// Process is the contract a concrete back-end driver of a debugged
// machine must fulfil. Text memory holds instructions as text, addressed
// by instruction index; data memory holds 64-bit signed words.
//
// All calls are blocking; Wait blocks until the debuggee stops. Every
// method reports transport or protocol failures as errors of the
// ErrDebugger kind.
type Process interface {
	// ReadText returns n consecutive instructions starting at address.
	ReadText(address, n uint64) ([]string, error)
	// WriteText overwrites instructions starting at address.
	WriteText(address uint64, text []string) error

	// ReadMemory returns n consecutive data words starting at address.
	ReadMemory(address, n uint64) ([]int64, error)
	// WriteMemory overwrites data words starting at address.
	WriteMemory(address uint64, data []int64) error

	FetchRegisters() (map[string]int64, error)
	SetRegisters(regs map[string]int64) error
	FetchFloatRegisters() (map[string]float64, error)
	SetFloatRegisters(regs map[string]float64) error
	FetchDebugRegisters() (map[string]uint64, error)
	SetDebugRegisters(regs map[string]uint64) error

	// ResumeExecution lets the debuggee run until the next stop.
	ResumeExecution() error
	// Singlestep executes exactly one instruction.
	Singlestep() error
	// Wait blocks until the debuggee reports a stop.
	Wait() error
	// Reason returns the cause of the last stop.
	Reason() (StopReason, error)

	// TextSize returns the number of instructions in the text section.
	TextSize() (uint64, error)
	// Terminate ends the debuggee. No call may follow.
	Terminate() error
}
