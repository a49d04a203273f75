package debugger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiny64vm/tiny64/pkg/t64/asm"
)

// fakeProcess is an in-memory tiny64 machine implementing the Process
// contract. It interprets just enough of the instruction set to drive the
// native control layer through realistic stop sequences.
type fakeProcess struct {
	text  []string
	data  []int64
	stack []int64

	regs  map[string]int64
	fregs map[string]float64
	dregs map[string]uint64

	reason     StopReason
	terminated bool
}

var _ Process = (*fakeProcess)(nil)

func newFakeProcess(text ...string) *fakeProcess {
	p := &fakeProcess{
		text:  text,
		data:  make([]int64, 64),
		regs:  map[string]int64{"IP": 0, "BP": 0, "SP": 0, "FLAGS": 0},
		fregs: map[string]float64{},
		dregs: map[string]uint64{},
	}
	for i := 0; i < 6; i++ {
		p.regs[fmt.Sprintf("R%d", i)] = 0
	}
	for i := 0; i < 4; i++ {
		p.fregs[fmt.Sprintf("F%d", i)] = 0
	}
	for i := 0; i <= 4; i++ {
		p.dregs[fmt.Sprintf("D%d", i)] = 0
	}
	return p
}

func (p *fakeProcess) ReadText(address, n uint64) ([]string, error) {
	if address+n > uint64(len(p.text)) {
		return nil, Errorf("text read out of bounds")
	}
	out := make([]string, n)
	copy(out, p.text[address:address+n])
	return out, nil
}

func (p *fakeProcess) WriteText(address uint64, text []string) error {
	if address+uint64(len(text)) > uint64(len(p.text)) {
		return Errorf("text write out of bounds")
	}
	copy(p.text[address:], text)
	return nil
}

func (p *fakeProcess) ReadMemory(address, n uint64) ([]int64, error) {
	if address+n > uint64(len(p.data)) {
		return nil, Errorf("memory read out of bounds")
	}
	out := make([]int64, n)
	copy(out, p.data[address:address+n])
	return out, nil
}

func (p *fakeProcess) WriteMemory(address uint64, data []int64) error {
	if address+uint64(len(data)) > uint64(len(p.data)) {
		return Errorf("memory write out of bounds")
	}
	copy(p.data[address:], data)
	return nil
}

func (p *fakeProcess) FetchRegisters() (map[string]int64, error) {
	out := make(map[string]int64, len(p.regs))
	for name, value := range p.regs {
		out[name] = value
	}
	return out, nil
}

func (p *fakeProcess) SetRegisters(regs map[string]int64) error {
	for name, value := range regs {
		if _, exists := p.regs[name]; !exists {
			return Errorf("no register %q", name)
		}
		p.regs[name] = value
	}
	return nil
}

func (p *fakeProcess) FetchFloatRegisters() (map[string]float64, error) {
	out := make(map[string]float64, len(p.fregs))
	for name, value := range p.fregs {
		out[name] = value
	}
	return out, nil
}

func (p *fakeProcess) SetFloatRegisters(regs map[string]float64) error {
	for name, value := range regs {
		if _, exists := p.fregs[name]; !exists {
			return Errorf("no float register %q", name)
		}
		p.fregs[name] = value
	}
	return nil
}

func (p *fakeProcess) FetchDebugRegisters() (map[string]uint64, error) {
	out := make(map[string]uint64, len(p.dregs))
	for name, value := range p.dregs {
		out[name] = value
	}
	return out, nil
}

func (p *fakeProcess) SetDebugRegisters(regs map[string]uint64) error {
	for name, value := range regs {
		if _, exists := p.dregs[name]; !exists {
			return Errorf("no debug register %q", name)
		}
		p.dregs[name] = value
	}
	return nil
}

func (p *fakeProcess) ResumeExecution() error {
	for steps := 0; steps < 10000; steps++ {
		if err := p.stepOne(); err != nil {
			return err
		}
		if p.reason != StopSinglestep {
			return nil
		}
	}
	return Errorf("fake machine ran away")
}

func (p *fakeProcess) Singlestep() error {
	return p.stepOne()
}

func (p *fakeProcess) Wait() error {
	return nil
}

func (p *fakeProcess) Reason() (StopReason, error) {
	return p.reason, nil
}

func (p *fakeProcess) TextSize() (uint64, error) {
	return uint64(len(p.text)), nil
}

func (p *fakeProcess) Terminate() error {
	p.terminated = true
	return nil
}

// stepOne interprets one instruction and records the stop reason the real
// machine would report.
func (p *fakeProcess) stepOne() error {
	ip := p.regs["IP"]
	if ip < 0 || ip >= int64(len(p.text)) {
		p.reason = StopExecutionEnd
		return nil
	}
	ins, err := asm.ParseInstructionText(p.text[ip])
	if err != nil {
		return Errorf("fake machine cannot decode %q: %v", p.text[ip], err)
	}
	p.regs["IP"] = ip + 1
	p.reason = StopSinglestep

	switch ins.Opcode {
	case asm.OpBKPT:
		p.reason = StopSoftwareBreakpointHit
	case asm.OpHALT:
		p.reason = StopExecutionEnd
	case asm.OpNOP, asm.OpPUTNUM, asm.OpPUTCHAR:
	case asm.OpMOV:
		value := p.readOperand(ins.Operands[1])
		p.writeOperand(ins.Operands[0], value)
	case asm.OpADD:
		reg := ins.Operands[0].(asm.Reg).Reg
		p.regs[string(reg)] += p.readOperand(ins.Operands[1])
	case asm.OpSUB:
		reg := ins.Operands[0].(asm.Reg).Reg
		p.regs[string(reg)] -= p.readOperand(ins.Operands[1])
	case asm.OpJMP:
		p.regs["IP"] = p.readOperand(ins.Operands[0])
	case asm.OpCALL:
		p.stack = append(p.stack, ip+1)
		p.regs["IP"] = p.readOperand(ins.Operands[0])
	case asm.OpRET:
		if len(p.stack) == 0 {
			return Errorf("fake machine: RET with empty call stack")
		}
		p.regs["IP"] = p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
	case asm.OpPUSH:
		p.stack = append(p.stack, p.readOperand(ins.Operands[0]))
	case asm.OpPOP:
		reg := ins.Operands[0].(asm.Reg).Reg
		p.regs[string(reg)] = p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
	default:
		return Errorf("fake machine does not interpret %s", ins.Opcode)
	}
	return nil
}

func (p *fakeProcess) readOperand(op asm.Operand) int64 {
	switch op := op.(type) {
	case asm.Imm:
		return op.Value
	case asm.Reg:
		return p.regs[string(op.Reg)]
	case asm.MemImm:
		return p.data[op.Addr]
	case asm.MemReg:
		return p.data[p.regs[string(op.Reg)]]
	case asm.MemRegImm:
		return p.data[p.regs[string(op.Reg)]+op.Imm]
	default:
		panic(fmt.Sprintf("fake machine cannot read operand %s", op))
	}
}

func (p *fakeProcess) writeOperand(op asm.Operand, value int64) {
	switch op := op.(type) {
	case asm.Reg:
		p.regs[string(op.Reg)] = value
	case asm.MemImm:
		p.writeData(op.Addr, value)
	case asm.MemReg:
		p.writeData(p.regs[string(op.Reg)], value)
	case asm.MemRegImm:
		p.writeData(p.regs[string(op.Reg)]+op.Imm, value)
	default:
		panic(fmt.Sprintf("fake machine cannot write operand %s", op))
	}
}

// writeData stores a word and fires any armed debug register watching the
// address, recording the triggered index in the control register the way
// the hardware does.
func (p *fakeProcess) writeData(address, value int64) {
	p.data[address] = value
	control := p.dregs["D4"]
	for idx := 0; idx < 4; idx++ {
		if control&(1<<idx) == 0 {
			continue
		}
		if p.dregs[fmt.Sprintf("D%d", idx)] == uint64(address) {
			p.dregs["D4"] = control | (1<<idx)<<8
			p.reason = StopHardwareBreak
			return
		}
	}
}

func newTestNative(text ...string) (*Native, *fakeProcess) {
	proc := newFakeProcess(text...)
	return NewNative(proc, Tiny64()), proc
}

func TestSetBreakpointInstallsTrap(t *testing.T) {
	native, proc := newTestNative("MOV R0, 1", "MOV R1, 2", "HALT")

	require.NoError(t, native.SetBreakpoint(1))
	assert.Equal(t, "BKPT", proc.text[1])
	assert.Equal(t, SoftwareBreakpoint{SavedOpcode: "MOV R1, 2", Enabled: true}, native.Breakpoints()[1])

	require.ErrorIs(t, native.SetBreakpoint(1), ErrDebugger)

	require.NoError(t, native.UnsetBreakpoint(1))
	assert.Equal(t, "MOV R1, 2", proc.text[1])
	assert.Empty(t, native.Breakpoints())
}

func TestEnableDisableBreakpoint(t *testing.T) {
	native, proc := newTestNative("NOP", "NOP", "HALT")

	require.NoError(t, native.SetBreakpoint(0))
	require.NoError(t, native.DisableBreakpoint(0))
	assert.Equal(t, "NOP", proc.text[0])
	assert.False(t, native.Breakpoints()[0].Enabled)

	// Disabling twice is a no-op, enabling re-installs the trap.
	require.NoError(t, native.DisableBreakpoint(0))
	require.NoError(t, native.EnableBreakpoint(0))
	assert.Equal(t, "BKPT", proc.text[0])

	require.ErrorIs(t, native.DisableBreakpoint(7), ErrDebugger)
	require.ErrorIs(t, native.EnableBreakpoint(7), ErrDebugger)
}

func TestBreakpointTransparency(t *testing.T) {
	native, proc := newTestNative("MOV R0, 1", "MOV R1, 2", "HALT")

	require.NoError(t, native.SetBreakpoint(1))
	require.NoError(t, native.WriteText(1, []string{"MOV R2, 9"}))

	// The program sees the written instruction, the machine the trap.
	visible, err := native.ReadText(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"MOV R0, 1", "MOV R2, 9", "HALT"}, visible)
	assert.Equal(t, "BKPT", proc.text[1])

	require.NoError(t, native.UnsetBreakpoint(1))
	assert.Equal(t, "MOV R2, 9", proc.text[1])
}

func TestTextAccessOutOfRange(t *testing.T) {
	native, _ := newTestNative("NOP", "HALT")

	_, err := native.ReadText(1, 2)
	require.ErrorIs(t, err, ErrDebugger)
	require.ErrorIs(t, native.WriteText(2, []string{"NOP"}), ErrDebugger)
}

func TestSetHitResume(t *testing.T) {
	native, _ := newTestNative("MOV R0, 1", "MOV R1, 2", "HALT")

	require.NoError(t, native.SetBreakpoint(1))
	require.NoError(t, native.ContinueExecution())

	event, err := native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, BreakpointHit{Kind: BreakpointSoftware, Address: 1}, event)

	// The IP was rolled back onto the replaced instruction.
	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip)

	r0, err := native.GetRegister("R0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r0)
	r1, err := native.GetRegister("R1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), r1)

	require.NoError(t, native.ContinueExecution())
	event, err = native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, ExecutionEnd{}, event)

	r1, err = native.GetRegister("R1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), r1)
}

func TestPerformSingleStepOverBreakpoint(t *testing.T) {
	native, proc := newTestNative("MOV R0, 1", "MOV R1, 2", "HALT")

	require.NoError(t, native.SetBreakpoint(0))
	event, err := native.PerformSingleStep()
	require.NoError(t, err)
	assert.Equal(t, Singlestep{}, event)

	// The original instruction ran and the trap is re-armed.
	assert.Equal(t, int64(1), proc.regs["R0"])
	assert.Equal(t, int64(1), proc.regs["IP"])
	assert.Equal(t, "BKPT", proc.text[0])
}

func TestStepOverCall(t *testing.T) {
	native, _ := newTestNative("CALL 3", "MOV R0, 1", "HALT", "MOV R1, 7", "RET")

	event, err := native.PerformStepOver(true)
	require.NoError(t, err)
	assert.Equal(t, Singlestep{}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip)

	// The callee really ran and the transient breakpoint is gone.
	r1, err := native.GetRegister("R1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), r1)
	assert.Empty(t, native.Breakpoints())
}

func TestStepOverReportsBreakpointInsideCall(t *testing.T) {
	native, _ := newTestNative("CALL 2", "HALT", "NOP", "MOV R1, 7", "RET")

	require.NoError(t, native.SetBreakpoint(3))
	event, err := native.PerformStepOver(true)
	require.NoError(t, err)
	assert.Equal(t, BreakpointHit{Kind: BreakpointSoftware, Address: 3}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ip)
}

func TestStepOut(t *testing.T) {
	native, _ := newTestNative("CALL 2", "HALT", "MOV R0, 1", "MOV R1, 2", "RET")

	// Step into the function first.
	event, err := native.PerformSingleStep()
	require.NoError(t, err)
	assert.Equal(t, Singlestep{}, event)

	event, err = native.PerformStepOut()
	require.NoError(t, err)
	assert.Equal(t, Singlestep{}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip)
}

func TestWatchpointTrigger(t *testing.T) {
	native, _ := newTestNative("MOV [16], 42", "HALT")

	require.NoError(t, native.SetWatchpointWrite(16))
	require.NoError(t, native.ContinueExecution())

	event, err := native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, WatchpointTrigger{Kind: WatchpointWrite, Address: 16}, event)

	words, err := native.ReadMemory(16, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, words)
}

func TestWatchpointAllocation(t *testing.T) {
	native, proc := newTestNative("HALT")

	for i := uint64(0); i < 4; i++ {
		require.NoError(t, native.SetWatchpointWrite(i))
	}
	require.ErrorIs(t, native.SetWatchpointWrite(9), ErrDebugger)
	require.ErrorIs(t, native.SetWatchpointWrite(2), ErrDebugger)

	// Removing one frees the lowest slot for reuse.
	require.NoError(t, native.RemoveWatchpoint(1))
	require.NoError(t, native.SetWatchpointWrite(9))
	assert.Equal(t, 1, native.Watchpoints()[9].HWReg)
	assert.Equal(t, uint64(9), proc.dregs["D1"])
}

func TestContinueCachesEventFromStepOver(t *testing.T) {
	native, proc := newTestNative("MOV [16], 42", "MOV R0, 1", "HALT")

	require.NoError(t, native.SetWatchpointWrite(16))
	require.NoError(t, native.SetBreakpoint(0))

	// Stepping over the breakpoint triggers the watchpoint, so the
	// event must be cached and the machine left stopped.
	require.NoError(t, native.ContinueExecution())
	assert.Equal(t, int64(1), proc.regs["IP"])
	assert.Equal(t, int64(0), proc.regs["R0"])

	event, err := native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, WatchpointTrigger{Kind: WatchpointWrite, Address: 16}, event)
}

func TestRegisterAccess(t *testing.T) {
	native, proc := newTestNative("HALT")

	require.NoError(t, native.SetRegister("R3", 99))
	assert.Equal(t, int64(99), proc.regs["R3"])

	value, err := native.GetRegister("R3")
	require.NoError(t, err)
	assert.Equal(t, int64(99), value)

	_, err = native.GetRegister("R77")
	require.ErrorIs(t, err, ErrDebugger)
	require.ErrorIs(t, native.SetRegister("R77", 1), ErrDebugger)
}

func TestFloatRegisterAccess(t *testing.T) {
	native, proc := newTestNative("HALT")

	require.NoError(t, native.SetFloatRegister("F1", 2.5))
	assert.Equal(t, 2.5, proc.fregs["F1"])

	value, err := native.GetFloatRegister("F1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, value)

	_, err = native.GetFloatRegister("R0")
	require.ErrorIs(t, err, ErrDebugger)
}

func TestTerminateDropsState(t *testing.T) {
	native, proc := newTestNative("NOP", "HALT")

	require.NoError(t, native.SetBreakpoint(0))
	require.NoError(t, native.Terminate())
	assert.True(t, proc.terminated)
	assert.False(t, native.Active())
	assert.Empty(t, native.Breakpoints())
}
