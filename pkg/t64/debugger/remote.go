package debugger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/tiny64vm/tiny64/pkg/t64/asm"
)

// RemoteProcess drives a tiny64 virtual machine over a line-oriented
// request/response stream, usually a TCP connection. One request is sent
// per line; the machine answers with one or more lines. Commands that
// return no data are acknowledged with "OK". When the machine stops it
// sends the line "STOPPED", which Wait consumes.
type RemoteProcess struct {
	conn    io.ReadWriteCloser
	scanner *bufio.Scanner

	genRegisterCount   int
	floatRegisterCount int
	arch               Arch
}

var _ Process = (*RemoteProcess)(nil)

// Connect dials the virtual machine at the given address and returns a
// process driver for it.
func Connect(address string, genRegisters, floatRegisters int, arch Arch) (*RemoteProcess, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, Errorf("cannot connect to machine at %s: %w", address, err)
	}
	slog.Info("connected to machine", "address", address)
	return NewRemoteProcess(conn, genRegisters, floatRegisters, arch), nil
}

// NewRemoteProcess wraps an established connection. The register counts
// bound the names accepted by the register setters.
func NewRemoteProcess(conn io.ReadWriteCloser, genRegisters, floatRegisters int, arch Arch) *RemoteProcess {
	return &RemoteProcess{
		conn:               conn,
		scanner:            bufio.NewScanner(conn),
		genRegisterCount:   genRegisters,
		floatRegisterCount: floatRegisters,
		arch:               arch,
	}
}

func (p *RemoteProcess) send(format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	if _, err := io.WriteString(p.conn, line+"\n"); err != nil {
		return Errorf("sending %q to machine: %w", line, err)
	}
	return nil
}

func (p *RemoteProcess) receive() (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", Errorf("receiving from machine: %w", err)
		}
		return "", Errorf("machine closed the connection")
	}
	return p.scanner.Text(), nil
}

func (p *RemoteProcess) checkOK(context string) error {
	response, err := p.receive()
	if err != nil {
		return err
	}
	if response != "OK" {
		return Errorf("%s: expected OK, machine answered %q", context, response)
	}
	return nil
}

// ReadText returns n instructions starting at address.
func (p *RemoteProcess) ReadText(address, n uint64) ([]string, error) {
	if err := p.send("PEEKTEXT %d %d", address, n); err != nil {
		return nil, err
	}
	text := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		line, err := p.receive()
		if err != nil {
			return nil, err
		}
		text = append(text, line)
	}
	return text, nil
}

// WriteText writes the given instructions at address. Every instruction
// is parsed locally first so malformed text never reaches the machine.
func (p *RemoteProcess) WriteText(address uint64, text []string) error {
	for i, ins := range text {
		if _, err := asm.ParseInstructionText(ins); err != nil {
			return Errorf("instruction %q is not valid: %w", ins, err)
		}
		if err := p.send("POKETEXT %d %s", address+uint64(i), ins); err != nil {
			return err
		}
		if err := p.checkOK("POKETEXT"); err != nil {
			return err
		}
	}
	return nil
}

// ReadMemory returns n data words starting at address.
func (p *RemoteProcess) ReadMemory(address, n uint64) ([]int64, error) {
	if err := p.send("PEEKDATA %d %d", address, n); err != nil {
		return nil, err
	}
	line, err := p.receive()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if uint64(len(fields)) != n {
		return nil, Errorf("PEEKDATA: expected %d words, machine answered %d", n, len(fields))
	}
	words := make([]int64, 0, n)
	for _, field := range fields {
		word, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, Errorf("PEEKDATA: malformed word %q", field)
		}
		words = append(words, word)
	}
	return words, nil
}

// WriteMemory writes the data words at address.
func (p *RemoteProcess) WriteMemory(address uint64, data []int64) error {
	for i, word := range data {
		if err := p.send("POKEDATA %d %d", address+uint64(i), word); err != nil {
			return err
		}
		if err := p.checkOK("POKEDATA"); err != nil {
			return err
		}
	}
	return nil
}

// FetchRegisters returns the integer register file.
func (p *RemoteProcess) FetchRegisters() (map[string]int64, error) {
	if err := p.send("PEEKREGS"); err != nil {
		return nil, err
	}
	return fetchRegisterLine(p, strconv.ParseInt)
}

// SetRegisters writes the integer register file.
func (p *RemoteProcess) SetRegisters(regs map[string]int64) error {
	for name, value := range regs {
		if !p.isValidRegisterName(name) {
			return Errorf("register name %q is not valid", name)
		}
		slog.Debug("setting register", "name", name, "value", value)
		if err := p.send("POKEREGS %s %d", name, value); err != nil {
			return err
		}
		if err := p.checkOK("POKEREGS"); err != nil {
			return err
		}
	}
	return nil
}

// FetchFloatRegisters returns the float register file.
func (p *RemoteProcess) FetchFloatRegisters() (map[string]float64, error) {
	if err := p.send("PEEKFLOATREGS"); err != nil {
		return nil, err
	}
	return fetchRegisterLine(p, func(s string, _ int, _ int) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// SetFloatRegisters writes the float register file.
func (p *RemoteProcess) SetFloatRegisters(regs map[string]float64) error {
	for name, value := range regs {
		if !p.isValidFloatRegisterName(name) {
			return Errorf("float register name %q is not valid", name)
		}
		if err := p.send("POKEFLOATREGS %s %g", name, value); err != nil {
			return err
		}
		if err := p.checkOK("POKEFLOATREGS"); err != nil {
			return err
		}
	}
	return nil
}

// FetchDebugRegisters returns the debug register file.
func (p *RemoteProcess) FetchDebugRegisters() (map[string]uint64, error) {
	if err := p.send("PEEKDEBUGREGS"); err != nil {
		return nil, err
	}
	return fetchRegisterLine(p, strconv.ParseUint)
}

// SetDebugRegisters writes the debug register file.
func (p *RemoteProcess) SetDebugRegisters(regs map[string]uint64) error {
	for name, value := range regs {
		if !p.isValidDebugRegisterName(name) {
			return Errorf("debug register name %q is not valid", name)
		}
		if err := p.send("POKEDEBUGREGS %s %d", name, value); err != nil {
			return err
		}
		if err := p.checkOK("POKEDEBUGREGS"); err != nil {
			return err
		}
	}
	return nil
}

// ResumeExecution lets the machine run.
func (p *RemoteProcess) ResumeExecution() error {
	if err := p.send("CONTINUE"); err != nil {
		return err
	}
	return p.checkOK("CONTINUE")
}

// Singlestep executes one instruction.
func (p *RemoteProcess) Singlestep() error {
	if err := p.send("SINGLESTEP"); err != nil {
		return err
	}
	return p.checkOK("SINGLESTEP")
}

// Wait blocks until the machine reports a stop.
func (p *RemoteProcess) Wait() error {
	message, err := p.receive()
	if err != nil {
		return err
	}
	if message != "STOPPED" {
		return Errorf("expected STOPPED message, machine answered %q", message)
	}
	return nil
}

// Reason asks the machine why it stopped last.
func (p *RemoteProcess) Reason() (StopReason, error) {
	if err := p.send("REASON"); err != nil {
		return 0, err
	}
	response, err := p.receive()
	if err != nil {
		return 0, err
	}
	switch response {
	case "START":
		return StopExecutionBegin, nil
	case "SW_BKPT":
		return StopSoftwareBreakpointHit, nil
	case "HW_BKPT":
		return StopHardwareBreak, nil
	case "SINGLESTEP":
		return StopSinglestep, nil
	case "HALT":
		return StopExecutionEnd, nil
	default:
		return 0, Errorf("unknown stop reason %q", response)
	}
}

// TextSize returns the instruction count of the text section.
func (p *RemoteProcess) TextSize() (uint64, error) {
	if err := p.send("TEXTSIZE"); err != nil {
		return 0, err
	}
	response, err := p.receive()
	if err != nil {
		return 0, err
	}
	value, ok := strings.CutPrefix(response, "TEXTSIZE:")
	if !ok {
		return 0, Errorf("malformed TEXTSIZE response %q", response)
	}
	size, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, Errorf("malformed TEXTSIZE response %q", response)
	}
	return size, nil
}

// Terminate ends the machine process and closes the connection.
func (p *RemoteProcess) Terminate() error {
	if err := p.send("TERMINATE"); err != nil {
		return err
	}
	if err := p.checkOK("TERMINATE"); err != nil {
		return err
	}
	return p.conn.Close()
}

// fetchRegisterLine reads one response line holding space-separated
// NAME:VALUE pairs and parses the values with the given parser.
func fetchRegisterLine[T any](p *RemoteProcess, parse func(string, int, int) (T, error)) (map[string]T, error) {
	line, err := p.receive()
	if err != nil {
		return nil, err
	}
	regs := make(map[string]T)
	for _, pair := range strings.Fields(line) {
		name, value, found := strings.Cut(pair, ":")
		if !found {
			return nil, Errorf("malformed register entry %q", pair)
		}
		parsed, err := parse(value, 10, 64)
		if err != nil {
			return nil, Errorf("malformed register value in %q", pair)
		}
		regs[name] = parsed
	}
	return regs, nil
}

func (p *RemoteProcess) isValidRegisterName(name string) bool {
	if name == p.arch.IPName || name == p.arch.BPName || name == "SP" || name == "FLAGS" {
		return true
	}
	return isIndexedRegister(name, 'R', p.genRegisterCount)
}

func (p *RemoteProcess) isValidFloatRegisterName(name string) bool {
	return isIndexedRegister(name, 'F', p.floatRegisterCount)
}

func (p *RemoteProcess) isValidDebugRegisterName(name string) bool {
	// The control register follows the address registers.
	return isIndexedRegister(name, 'D', p.arch.DebugRegisterCount+1)
}

func isIndexedRegister(name string, prefix byte, count int) bool {
	if len(name) < 2 || name[0] != prefix {
		return false
	}
	idx, err := strconv.Atoi(name[1:])
	return err == nil && idx >= 0 && idx < count
}
