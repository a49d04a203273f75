package debugger

import "fmt"

// StopReason is the raw cause of a debuggee stop as reported by the
// process interface. The native control maps it to a DebugEvent.
type StopReason int

const (
	StopSoftwareBreakpointHit StopReason = iota
	StopHardwareBreak
	StopSinglestep
	StopExecutionBegin
	StopExecutionEnd
)

// String returns the string representation of a StopReason.
func (r StopReason) String() string {
	switch r {
	case StopSoftwareBreakpointHit:
		return "software_breakpoint"
	case StopHardwareBreak:
		return "hardware_break"
	case StopSinglestep:
		return "singlestep"
	case StopExecutionBegin:
		return "execution_begin"
	case StopExecutionEnd:
		return "execution_end"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// BreakpointKind distinguishes software from hardware breakpoints.
type BreakpointKind int

const (
	BreakpointSoftware BreakpointKind = iota
	BreakpointHardware
)

// WatchpointKind is the access kind a watchpoint fires on.
type WatchpointKind int

const (
	WatchpointWrite WatchpointKind = iota
)

// DebugEvent is the sum of events reported to the front-end after a stop.
type DebugEvent interface {
	fmt.Stringer
	isDebugEvent()
}

// BreakpointHit reports that execution stopped on a breakpoint. Address is
// the address of the instruction the breakpoint replaced.
type BreakpointHit struct {
	Kind    BreakpointKind
	Address uint64
}

// WatchpointTrigger reports that a watched address was written.
type WatchpointTrigger struct {
	Kind    WatchpointKind
	Address uint64
}

// Singlestep reports completion of a single instruction step.
type Singlestep struct{}

// ExecutionBegin reports the initial stop of a freshly attached debuggee.
type ExecutionBegin struct{}

// ExecutionEnd reports that the debuggee halted.
type ExecutionEnd struct{}

func (BreakpointHit) isDebugEvent()     {}
func (WatchpointTrigger) isDebugEvent() {}
func (Singlestep) isDebugEvent()        {}
func (ExecutionBegin) isDebugEvent()    {}
func (ExecutionEnd) isDebugEvent()      {}

func (e BreakpointHit) String() string {
	kind := "software"
	if e.Kind == BreakpointHardware {
		kind = "hardware"
	}
	return fmt.Sprintf("%s breakpoint hit at %d", kind, e.Address)
}

func (e WatchpointTrigger) String() string {
	return fmt.Sprintf("watchpoint triggered by write to %d", e.Address)
}

func (Singlestep) String() string     { return "singlestep done" }
func (ExecutionBegin) String() string { return "execution started" }
func (ExecutionEnd) String() string   { return "execution ended" }
