// Package debugger implements the native control layer of the tiny64
// debugger: software breakpoints, hardware watchpoints, stepping and the
// mapping from raw stop reasons to debug events. It talks to the debuggee
// exclusively through the Process contract and learns machine specifics
// from an Arch capability record.
package debugger

import (
	"log/slog"
	"sort"
)

// SoftwareBreakpoint records one software breakpoint. While it is
// enabled, the debuggee's instruction at its address is the trap opcode
// and SavedOpcode holds what was there before.
type SoftwareBreakpoint struct {
	SavedOpcode string
	Enabled     bool
}

// Watchpoint records one hardware watchpoint and the debug register
// backing it.
type Watchpoint struct {
	Kind  WatchpointKind
	HWReg int
}

// Native owns the process handle of the debuggee for its lifetime,
// together with the breakpoint and watchpoint tables. All inspection and
// control of the debuggee goes through it; raw process access would break
// the breakpoint transparency it maintains.
type Native struct {
	proc Process
	arch Arch

	breakpoints map[uint64]SoftwareBreakpoint
	watchpoints map[uint64]Watchpoint

	// cachedEvent is non-nil only between a ContinueExecution that
	// swallowed a non-singlestep event while stepping over a breakpoint
	// and the WaitForDebugEvent that drains it.
	cachedEvent DebugEvent
}

// NewNative creates the native control layer over an attached process.
func NewNative(proc Process, arch Arch) *Native {
	return &Native{
		proc:        proc,
		arch:        arch,
		breakpoints: make(map[uint64]SoftwareBreakpoint),
		watchpoints: make(map[uint64]Watchpoint),
	}
}

// Active reports whether this instance represents a running process.
func (n *Native) Active() bool {
	return n.proc != nil
}

// Terminate ends the debuggee and drops the process handle together with
// the breakpoint and watchpoint tables. No other call may follow.
func (n *Native) Terminate() error {
	err := n.proc.Terminate()
	n.proc = nil
	n.breakpoints = make(map[uint64]SoftwareBreakpoint)
	n.watchpoints = make(map[uint64]Watchpoint)
	n.cachedEvent = nil
	return err
}

// --- Breakpoints ---

// SetBreakpoint creates a new enabled breakpoint at the address. It fails
// if one already exists there.
func (n *Native) SetBreakpoint(address uint64) error {
	if _, exists := n.breakpoints[address]; exists {
		return Errorf("breakpoint at %d is already set", address)
	}
	bp, err := n.createSoftwareBreakpoint(address)
	if err != nil {
		return err
	}
	n.breakpoints[address] = bp
	return nil
}

// UnsetBreakpoint disables and removes the breakpoint at the address.
func (n *Native) UnsetBreakpoint(address uint64) error {
	if err := n.DisableBreakpoint(address); err != nil {
		return err
	}
	delete(n.breakpoints, address)
	return nil
}

// EnableBreakpoint re-arms a disabled breakpoint. Enabling an enabled
// breakpoint is a no-op; enabling a missing one fails.
func (n *Native) EnableBreakpoint(address uint64) error {
	bp, exists := n.breakpoints[address]
	if !exists {
		return Errorf("no breakpoint at address %d", address)
	}
	if bp.Enabled {
		return nil
	}
	rearmed, err := n.createSoftwareBreakpoint(address)
	if err != nil {
		return err
	}
	n.breakpoints[address] = rearmed
	return nil
}

// DisableBreakpoint restores the saved opcode but keeps the table entry.
// Disabling a disabled breakpoint is a no-op; disabling a missing one
// fails.
func (n *Native) DisableBreakpoint(address uint64) error {
	bp, exists := n.breakpoints[address]
	if !exists {
		return Errorf("no breakpoint at address %d", address)
	}
	if !bp.Enabled {
		return nil
	}
	if err := n.proc.WriteText(address, []string{bp.SavedOpcode}); err != nil {
		return err
	}
	bp.Enabled = false
	n.breakpoints[address] = bp
	return nil
}

// Breakpoints returns the breakpoint table.
func (n *Native) Breakpoints() map[uint64]SoftwareBreakpoint {
	return n.breakpoints
}

// SetAllBreakpoints replaces the whole breakpoint table, disarming any
// currently installed trap first.
func (n *Native) SetAllBreakpoints(bps map[uint64]SoftwareBreakpoint) error {
	for address := range n.breakpoints {
		if err := n.DisableBreakpoint(address); err != nil {
			return err
		}
	}
	n.breakpoints = make(map[uint64]SoftwareBreakpoint)
	for address, bp := range bps {
		if bp.Enabled {
			if err := n.SetBreakpoint(address); err != nil {
				return err
			}
		} else {
			n.breakpoints[address] = SoftwareBreakpoint{Enabled: false}
		}
	}
	return nil
}

// createSoftwareBreakpoint reads the instruction at the address, installs
// the trap opcode, reads it back to confirm and returns the new record.
// On a failed confirmation the table is left untouched.
func (n *Native) createSoftwareBreakpoint(address uint64) (SoftwareBreakpoint, error) {
	trap := n.arch.TrapOpcode
	backup, err := n.proc.ReadText(address, 1)
	if err != nil {
		return SoftwareBreakpoint{}, err
	}
	if err := n.proc.WriteText(address, []string{trap}); err != nil {
		return SoftwareBreakpoint{}, err
	}
	confirm, err := n.proc.ReadText(address, 1)
	if err != nil {
		return SoftwareBreakpoint{}, err
	}
	if confirm[0] != trap {
		return SoftwareBreakpoint{}, Errorf(
			"failed to install breakpoint at %d: expected opcode %q, got %q",
			address, trap, confirm[0])
	}
	return SoftwareBreakpoint{SavedOpcode: backup[0], Enabled: true}, nil
}

// --- Text access ---

// ReadText returns amount instructions starting at address, as the
// program sees them: installed traps are replaced by the saved opcodes.
func (n *Native) ReadText(address, amount uint64) ([]string, error) {
	size, err := n.TextSize()
	if err != nil {
		return nil, err
	}
	if address+amount > size {
		return nil, Errorf("reading text at range %d-%d, but text size is %d",
			address, address+amount, size)
	}
	text, err := n.proc.ReadText(address, amount)
	if err != nil {
		return nil, err
	}
	for i := range text {
		if bp, exists := n.breakpoints[address+uint64(i)]; exists && bp.Enabled {
			text[i] = bp.SavedOpcode
		}
	}
	return text, nil
}

// WriteText writes the instructions at address while preserving installed
// traps: a write into an address occupied by an enabled breakpoint goes
// into the breakpoint's saved opcode instead.
func (n *Native) WriteText(address uint64, text []string) error {
	size, err := n.TextSize()
	if err != nil {
		return err
	}
	if address+uint64(len(text)) > size {
		return Errorf("writing text at range %d-%d, but text size is %d",
			address, address+uint64(len(text)), size)
	}
	outgoing := make([]string, len(text))
	copy(outgoing, text)
	for i := range outgoing {
		addr := address + uint64(i)
		if bp, exists := n.breakpoints[addr]; exists && bp.Enabled {
			bp.SavedOpcode = outgoing[i]
			n.breakpoints[addr] = bp
			outgoing[i] = n.arch.TrapOpcode
		}
	}
	return n.proc.WriteText(address, outgoing)
}

// TextSize returns the size of the debuggee's text section.
func (n *Native) TextSize() (uint64, error) {
	return n.proc.TextSize()
}

// --- Data access ---

// ReadMemory reads amount data words from the debuggee.
func (n *Native) ReadMemory(address, amount uint64) ([]int64, error) {
	return n.proc.ReadMemory(address, amount)
}

// SetMemory writes data words into the debuggee.
func (n *Native) SetMemory(address uint64, values []int64) error {
	return n.proc.WriteMemory(address, values)
}

// --- Registers ---

// GetRegisters returns the integer register file.
func (n *Native) GetRegisters() (map[string]int64, error) {
	return n.proc.FetchRegisters()
}

// SetRegisters writes the integer register file.
func (n *Native) SetRegisters(regs map[string]int64) error {
	return n.proc.SetRegisters(regs)
}

// GetRegister returns the value of one integer register. It fails if the
// target has no register of that name.
func (n *Native) GetRegister(name string) (int64, error) {
	regs, err := n.proc.FetchRegisters()
	if err != nil {
		return 0, err
	}
	value, exists := regs[name]
	if !exists {
		return 0, Errorf("no register %q in target", name)
	}
	return value, nil
}

// SetRegister sets one integer register through a read-modify-write of
// the whole file. It fails if the target has no register of that name.
func (n *Native) SetRegister(name string, value int64) error {
	regs, err := n.proc.FetchRegisters()
	if err != nil {
		return err
	}
	if _, exists := regs[name]; !exists {
		return Errorf("unknown register name %q", name)
	}
	regs[name] = value
	return n.proc.SetRegisters(regs)
}

// GetFloatRegisters returns the float register file.
func (n *Native) GetFloatRegisters() (map[string]float64, error) {
	return n.proc.FetchFloatRegisters()
}

// SetFloatRegisters writes the float register file.
func (n *Native) SetFloatRegisters(regs map[string]float64) error {
	return n.proc.SetFloatRegisters(regs)
}

// GetFloatRegister returns the value of one float register.
func (n *Native) GetFloatRegister(name string) (float64, error) {
	regs, err := n.proc.FetchFloatRegisters()
	if err != nil {
		return 0, err
	}
	value, exists := regs[name]
	if !exists {
		return 0, Errorf("%q is not a float register", name)
	}
	return value, nil
}

// SetFloatRegister sets one float register.
func (n *Native) SetFloatRegister(name string, value float64) error {
	regs, err := n.proc.FetchFloatRegisters()
	if err != nil {
		return err
	}
	if _, exists := regs[name]; !exists {
		return Errorf("%q is not a float register", name)
	}
	regs[name] = value
	return n.proc.SetFloatRegisters(regs)
}

// GetIP returns the current instruction pointer, using the architecture's
// canonical name for it.
func (n *Native) GetIP() (uint64, error) {
	ip, err := n.GetRegister(n.arch.IPName)
	if err != nil {
		return 0, err
	}
	return uint64(ip), nil
}

// FrameBaseRegister returns the architecture's frame base register name.
func (n *Native) FrameBaseRegister() string {
	return n.arch.BPName
}

// --- Stepping and continuing ---

// DoRawSingleStep drives one hardware step without looking at
// breakpoints and waits for the resulting event.
func (n *Native) DoRawSingleStep() (DebugEvent, error) {
	if err := n.proc.Singlestep(); err != nil {
		return nil, err
	}
	return n.WaitForDebugEvent()
}

// PerformSingleStep steps one instruction. If an enabled breakpoint sits
// at the current IP it is stepped over, so the original instruction is
// executed, not the trap.
func (n *Native) PerformSingleStep() (DebugEvent, error) {
	if !n.arch.HardwareSinglestep {
		return nil, Errorf("singlestep is not supported for the current architecture")
	}
	ip, err := n.GetIP()
	if err != nil {
		return nil, err
	}
	if bp, exists := n.breakpoints[ip]; exists && bp.Enabled {
		return n.stepOverBreakpoint(ip)
	}
	return n.DoRawSingleStep()
}

// PerformStepOver steps one instruction without descending into calls: a
// CALL at the current IP runs to completion through a transient
// breakpoint at the return site. With skipBreakpoint set, an enabled
// breakpoint at the current IP is stepped over first.
func (n *Native) PerformStepOver(skipBreakpoint bool) (DebugEvent, error) {
	if !n.arch.HardwareSinglestep {
		return nil, Errorf("singlestep is not supported for the current architecture")
	}
	ip, err := n.GetIP()
	if err != nil {
		return nil, err
	}
	text, err := n.ReadText(ip, 1)
	if err != nil {
		return nil, err
	}
	if !n.arch.IsCallInstruction(text[0]) {
		if skipBreakpoint {
			return n.PerformSingleStep()
		}
		return n.DoRawSingleStep()
	}

	returnSite := ip + 1
	_, bpExists := n.breakpoints[returnSite]
	if !bpExists {
		if err := n.SetBreakpoint(returnSite); err != nil {
			return nil, err
		}
	}
	if skipBreakpoint {
		if _, err := n.PerformSingleStep(); err != nil {
			return nil, err
		}
	}
	if err := n.ContinueExecution(); err != nil {
		return nil, err
	}
	event, err := n.WaitForDebugEvent()
	if err != nil {
		return nil, err
	}
	if !bpExists {
		if err := n.UnsetBreakpoint(returnSite); err != nil {
			return nil, err
		}
	}
	newIP, err := n.GetIP()
	if err != nil {
		return nil, err
	}
	// Some other breakpoint inside the call may have been hit.
	if newIP != returnSite {
		return event, nil
	}
	return Singlestep{}, nil
}

// PerformStepOut runs until the current function returns: it steps over
// instructions until a return instruction has been executed. Any event
// other than a finished step stops the walk and is reported.
func (n *Native) PerformStepOut() (DebugEvent, error) {
	for {
		ip, err := n.GetIP()
		if err != nil {
			return nil, err
		}
		text, err := n.ReadText(ip, 1)
		if err != nil {
			return nil, err
		}
		if n.arch.IsReturnInstruction(text[0]) {
			return n.PerformSingleStep()
		}
		event, err := n.PerformStepOver(true)
		if err != nil {
			return nil, err
		}
		if _, stepped := event.(Singlestep); !stepped {
			return event, nil
		}
	}
}

// ContinueExecution resumes the debuggee. If an enabled breakpoint sits
// at the current IP it is stepped over first; when that step reports
// anything other than a finished step the event is cached for the next
// WaitForDebugEvent and the debuggee is left stopped.
func (n *Native) ContinueExecution() error {
	ip, err := n.GetIP()
	if err != nil {
		return err
	}
	bp, exists := n.breakpoints[ip]
	if !exists || !bp.Enabled {
		return n.proc.ResumeExecution()
	}
	event, err := n.stepOverBreakpoint(ip)
	if err != nil {
		return err
	}
	if _, stepped := event.(Singlestep); !stepped {
		n.cachedEvent = event
		return nil
	}
	return n.proc.ResumeExecution()
}

// WaitForDebugEvent blocks until the debuggee stops and returns the
// corresponding event. A cached event from ContinueExecution is drained
// first without touching the process. On a breakpoint hit the IP is moved
// back onto the replaced instruction, so the reported address and the IP
// agree.
func (n *Native) WaitForDebugEvent() (DebugEvent, error) {
	if n.cachedEvent != nil {
		event := n.cachedEvent
		n.cachedEvent = nil
		return event, nil
	}
	if err := n.proc.Wait(); err != nil {
		return nil, err
	}
	reason, err := n.proc.Reason()
	if err != nil {
		return nil, err
	}
	event, err := n.mapReasonToEvent(reason)
	if err != nil {
		return nil, err
	}
	if hit, isHit := event.(BreakpointHit); isHit {
		// The trap already executed, so the process reports IP one
		// past the replaced instruction. Roll it back so the user sees
		// the original instruction address.
		if err := n.SetRegister(n.arch.IPName, int64(hit.Address)); err != nil {
			return nil, err
		}
		slog.Debug("rolled IP back onto breakpoint", "address", hit.Address)
	}
	return event, nil
}

// mapReasonToEvent translates a raw stop reason into a debug event.
func (n *Native) mapReasonToEvent(reason StopReason) (DebugEvent, error) {
	switch reason {
	case StopSoftwareBreakpointHit:
		ip, err := n.GetIP()
		if err != nil {
			return nil, err
		}
		return BreakpointHit{Kind: BreakpointSoftware, Address: ip - 1}, nil
	case StopHardwareBreak:
		regs, err := n.proc.FetchDebugRegisters()
		if err != nil {
			return nil, err
		}
		idx, err := n.arch.ResponsibleRegister(regs)
		if err != nil {
			return nil, err
		}
		for address, wp := range n.watchpoints {
			if wp.HWReg == idx {
				return WatchpointTrigger{Kind: WatchpointWrite, Address: address}, nil
			}
		}
		return nil, Errorf("debug register %d triggered but no watchpoint uses it", idx)
	case StopSinglestep:
		return Singlestep{}, nil
	case StopExecutionBegin:
		return ExecutionBegin{}, nil
	case StopExecutionEnd:
		return ExecutionEnd{}, nil
	default:
		return nil, Errorf("unknown stop reason %v", reason)
	}
}

// stepOverBreakpoint disables the breakpoint at ip, steps the original
// instruction and re-arms the breakpoint, reporting the step's event.
func (n *Native) stepOverBreakpoint(ip uint64) (DebugEvent, error) {
	if err := n.DisableBreakpoint(ip); err != nil {
		return nil, err
	}
	// PerformSingleStep ends up back here only if the breakpoint is
	// still enabled, which the line above rules out.
	event, err := n.PerformSingleStep()
	if err != nil {
		return nil, err
	}
	if err := n.EnableBreakpoint(ip); err != nil {
		return nil, err
	}
	return event, nil
}

// --- Watchpoints ---

// SetWatchpointWrite installs a hardware watchpoint firing on writes to
// the address. The lowest free debug register is used; it fails when all
// are taken or a watchpoint already guards the address.
func (n *Native) SetWatchpointWrite(address uint64) error {
	if !n.arch.HardwareWatchpoints {
		return Errorf("this architecture does not support watchpoints")
	}
	if _, exists := n.watchpoints[address]; exists {
		return Errorf("a watchpoint is already set on address %d", address)
	}
	idx, free := n.freeDebugRegister()
	if !free {
		return Errorf("maximum amount of watchpoints has been set")
	}

	regs, err := n.proc.FetchDebugRegisters()
	if err != nil {
		return err
	}
	if err := n.arch.SetDebugRegister(idx, address, regs); err != nil {
		return err
	}
	if err := n.arch.ActivateDebugRegister(idx, regs); err != nil {
		return err
	}
	if err := n.proc.SetDebugRegisters(regs); err != nil {
		return err
	}
	n.watchpoints[address] = Watchpoint{Kind: WatchpointWrite, HWReg: idx}
	return nil
}

// RemoveWatchpoint removes the watchpoint at the address and releases its
// debug register.
func (n *Native) RemoveWatchpoint(address uint64) error {
	wp, exists := n.watchpoints[address]
	if !exists {
		return Errorf("no watchpoint is set on address %d", address)
	}
	regs, err := n.proc.FetchDebugRegisters()
	if err != nil {
		return err
	}
	if err := n.arch.DeactivateDebugRegister(wp.HWReg, regs); err != nil {
		return err
	}
	if err := n.proc.SetDebugRegisters(regs); err != nil {
		return err
	}
	delete(n.watchpoints, address)
	return nil
}

// Watchpoints returns the watchpoint table.
func (n *Native) Watchpoints() map[uint64]Watchpoint {
	return n.watchpoints
}

// SetAllWatchpoints replaces the whole watchpoint table.
func (n *Native) SetAllWatchpoints(addresses []uint64) error {
	existing := make([]uint64, 0, len(n.watchpoints))
	for address := range n.watchpoints {
		existing = append(existing, address)
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i] < existing[j] })
	for _, address := range existing {
		if err := n.RemoveWatchpoint(address); err != nil {
			return err
		}
	}
	for _, address := range addresses {
		if err := n.SetWatchpointWrite(address); err != nil {
			return err
		}
	}
	return nil
}

// freeDebugRegister walks the debug register slots in ascending order and
// returns the lowest one no watchpoint uses.
func (n *Native) freeDebugRegister() (int, bool) {
	for idx := 0; idx < n.arch.DebugRegisterCount; idx++ {
		taken := false
		for _, wp := range n.watchpoints {
			if wp.HWReg == idx {
				taken = true
				break
			}
		}
		if !taken {
			return idx, true
		}
	}
	return 0, false
}
