// Package dbg implements the interactive debugger front-end: a thin REPL
// over the native control and source layers.
package dbg

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tiny64vm/tiny64/pkg/t64/debugger"
	"github.com/tiny64vm/tiny64/pkg/t64/debugger/source"
	"github.com/tiny64vm/tiny64/pkg/utils"
)

var (
	colorPrompt  = color.New(color.FgBlue, color.Bold)
	colorError   = color.New(color.FgRed, color.Bold)
	colorEvent   = color.New(color.FgYellow)
	colorAddr    = color.New(color.FgCyan)
	colorReg     = color.New(color.FgGreen)
	colorValue   = color.New(color.FgWhite, color.Bold)
	colorSource  = color.New(color.FgHiWhite)
	colorCurrent = color.New(color.FgGreen, color.Bold)
)

// DbgCmd attaches to a running tiny64 machine and debugs it.
var DbgCmd = &cobra.Command{
	Use:   "dbg",
	Short: "Attach to a running tiny64 machine and debug it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	DbgCmd.Flags().String("connect", "localhost:9110", "address of the machine to attach to")
	DbgCmd.Flags().String("debug-info", "", "file with debugging information")
	DbgCmd.Flags().Int("registers", 8, "number of general purpose registers of the machine")
	DbgCmd.Flags().Int("float-registers", 4, "number of float registers of the machine")
	viper.BindPFlag("connect", DbgCmd.Flags().Lookup("connect"))
	viper.BindPFlag("debug-info", DbgCmd.Flags().Lookup("debug-info"))
	viper.BindPFlag("registers", DbgCmd.Flags().Lookup("registers"))
	viper.BindPFlag("float-registers", DbgCmd.Flags().Lookup("float-registers"))
}

// session bundles the two debugger layers the REPL drives.
type session struct {
	native *debugger.Native
	src    *source.Source
}

func run() error {
	arch := debugger.Tiny64()
	proc, err := debugger.Connect(viper.GetString("connect"),
		viper.GetInt("registers"), viper.GetInt("float-registers"), arch)
	if err != nil {
		return err
	}

	s := &session{
		native: debugger.NewNative(proc, arch),
		src:    source.New(),
	}
	if path := viper.GetString("debug-info"); path != "" {
		if err := s.loadDebugInfo(path); err != nil {
			return err
		}
	}

	// The machine reports an initial stop once attached.
	event, err := s.native.WaitForDebugEvent()
	if err != nil {
		return err
	}
	colorEvent.Println(event)

	return s.repl()
}

func (s *session) loadDebugInfo(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening debug info: %w", err)
	}
	defer file.Close()
	parser, err := source.NewParser(file)
	if err != nil {
		return err
	}
	info, err := parser.Parse()
	if err != nil {
		return err
	}
	s.src.Load(info)
	return nil
}

func (s *session) repl() error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		colorPrompt.Print("t64> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "q" {
			if s.native.Active() {
				return s.native.Terminate()
			}
			return nil
		}
		if err := s.dispatch(fields[0], fields[1:]); err != nil {
			colorError.Println(err)
		}
	}
}

func (s *session) dispatch(command string, args []string) error {
	switch command {
	case "break", "b":
		return s.cmdBreak(args, s.native.SetBreakpoint, s.src.SetSourceBreakpoint)
	case "unbreak", "ub":
		return s.cmdBreak(args, s.native.UnsetBreakpoint, s.src.UnsetSourceBreakpoint)
	case "enable":
		return s.cmdBreak(args, s.native.EnableBreakpoint, s.src.EnableSourceBreakpoint)
	case "disable":
		return s.cmdBreak(args, s.native.DisableBreakpoint, s.src.DisableSourceBreakpoint)
	case "continue", "c":
		if err := s.native.ContinueExecution(); err != nil {
			return err
		}
		return s.reportStop()
	case "stepi", "si":
		return s.reportEvent(s.native.PerformSingleStep())
	case "nexti", "ni":
		return s.reportEvent(s.native.PerformStepOver(true))
	case "step", "s":
		return s.reportEvent(s.src.StepIn(s.native))
	case "next", "n":
		return s.reportEvent(s.src.StepOver(s.native))
	case "finish":
		return s.reportEvent(s.native.PerformStepOut())
	case "registers", "regs":
		return s.cmdRegisters()
	case "print", "p":
		return s.cmdPrint(args)
	case "set":
		return s.cmdSet(args)
	case "mem", "x":
		return s.cmdMemory(args)
	case "watch":
		return s.withAddress(args, s.native.SetWatchpointWrite)
	case "unwatch":
		return s.withAddress(args, s.native.RemoveWatchpoint)
	case "vars":
		return s.cmdVars()
	case "loc":
		return s.cmdLocation(args)
	case "list", "l":
		return s.cmdList()
	case "help", "h":
		printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command %q, try 'help'", command)
	}
}

// cmdBreak routes a breakpoint command: numeric arguments prefixed with
// '*' are raw addresses, plain numbers are source lines and anything else
// is a function name.
func (s *session) cmdBreak(args []string,
	nativeOp func(uint64) error,
	sourceOp func(source.Native, uint64) (uint64, error)) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one argument: an address, line or function")
	}
	spec := args[0]
	if raw, found := strings.CutPrefix(spec, "*"); found {
		addr, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("malformed address %q", raw)
		}
		return nativeOp(addr)
	}
	if line, err := strconv.ParseUint(spec, 10, 64); err == nil {
		addr, err := sourceOp(s.native, line)
		if err != nil {
			return err
		}
		fmt.Printf("line %d is address %s\n", line, colorAddr.Sprint(addr))
		return nil
	}
	addr, err := s.src.ResolveAddress(spec)
	if err != nil {
		return err
	}
	return nativeOp(addr)
}

func (s *session) withAddress(args []string, op func(uint64) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one address argument")
	}
	addr, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed address %q", args[0])
	}
	return op(addr)
}

func (s *session) reportStop() error {
	event, err := s.native.WaitForDebugEvent()
	if err != nil {
		return err
	}
	colorEvent.Println(event)
	return s.showLocation()
}

func (s *session) reportEvent(event debugger.DebugEvent, err error) error {
	if err != nil {
		return err
	}
	colorEvent.Println(event)
	return s.showLocation()
}

// showLocation prints the instruction at the current IP and, when line
// information exists, the source line.
func (s *session) showLocation() error {
	ip, err := s.native.GetIP()
	if err != nil {
		return err
	}
	size, err := s.native.TextSize()
	if err != nil {
		return err
	}
	if ip >= size {
		return nil
	}
	text, err := s.native.ReadText(ip, 1)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", colorAddr.Sprintf("%4d", ip), colorCurrent.Sprint(text[0]))
	if line, ok := s.src.AddrToLine(ip); ok {
		if sourceLine, ok := s.src.Line(line); ok {
			colorSource.Printf("%4d  %s\n", line, sourceLine)
		}
	}
	return nil
}

func (s *session) cmdRegisters() error {
	regs, err := s.native.GetRegisters()
	if err != nil {
		return err
	}
	for _, name := range utils.SortedKeys(regs) {
		fmt.Printf("%s = %s\n", colorReg.Sprintf("%-6s", name), colorValue.Sprint(regs[name]))
	}
	return nil
}

func (s *session) cmdPrint(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one register argument")
	}
	value, err := s.native.GetRegister(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", colorReg.Sprint(args[0]), colorValue.Sprint(value))
	return nil
}

func (s *session) cmdSet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected register and value")
	}
	value, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed value %q", args[1])
	}
	return s.native.SetRegister(args[0], value)
}

func (s *session) cmdMemory(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected address and word count")
	}
	addr, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed address %q", args[0])
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed count %q", args[1])
	}
	words, err := s.native.ReadMemory(addr, amount)
	if err != nil {
		return err
	}
	for i, word := range words {
		fmt.Printf("%s: %s\n", colorAddr.Sprint(addr+uint64(i)), colorValue.Sprint(word))
	}
	return nil
}

func (s *session) cmdVars() error {
	ip, err := s.native.GetIP()
	if err != nil {
		return err
	}
	names := s.src.ScopedVariableNames(ip)
	if len(names) == 0 {
		fmt.Println("no variables in scope")
		return nil
	}
	for _, name := range names {
		location, err := s.src.VariableLocation(s.native, name)
		if err != nil {
			fmt.Printf("%s: location unavailable\n", colorReg.Sprint(name))
			continue
		}
		if typeInfo, ok := s.src.VariableTypeInformation(s.native, name); ok {
			fmt.Printf("%s %s at %s\n", typeInfo, colorReg.Sprint(name), colorAddr.Sprint(location))
		} else {
			fmt.Printf("%s at %s\n", colorReg.Sprint(name), colorAddr.Sprint(location))
		}
	}
	return nil
}

func (s *session) cmdLocation(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one variable argument")
	}
	location, err := s.src.VariableLocation(s.native, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s is at %s\n", colorReg.Sprint(args[0]), colorAddr.Sprint(location))
	return nil
}

func (s *session) cmdList() error {
	for _, addr := range utils.SortedKeys(s.native.Breakpoints()) {
		bp := s.native.Breakpoints()[addr]
		state := "enabled"
		if !bp.Enabled {
			state = "disabled"
		}
		fmt.Printf("breakpoint at %s (%s)\n", colorAddr.Sprint(addr), state)
	}
	for _, addr := range utils.SortedKeys(s.native.Watchpoints()) {
		wp := s.native.Watchpoints()[addr]
		fmt.Printf("watchpoint at %s (D%d)\n", colorAddr.Sprint(addr), wp.HWReg)
	}
	return nil
}

func printHelp() {
	help := [][2]string{
		{"break|b <line|fn|*addr>", "set a breakpoint"},
		{"unbreak|ub <line|fn|*addr>", "remove a breakpoint"},
		{"enable/disable <line|fn|*addr>", "toggle a breakpoint"},
		{"watch/unwatch <addr>", "toggle a write watchpoint"},
		{"continue|c", "resume execution"},
		{"stepi|si / nexti|ni", "instruction step / step over"},
		{"step|s / next|n", "source line step / step over"},
		{"finish", "run until the current function returns"},
		{"registers|regs / print|p <reg> / set <reg> <val>", "inspect registers"},
		{"mem|x <addr> <n>", "dump data memory"},
		{"vars / loc <var>", "inspect variables"},
		{"list|l", "list breakpoints and watchpoints"},
		{"quit|q", "terminate the debuggee and exit"},
	}
	for _, entry := range help {
		fmt.Printf("  %-48s %s\n", entry[0], entry[1])
	}
}
