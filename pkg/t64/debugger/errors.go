package debugger

import (
	"errors"
	"fmt"
)

// ErrDebugger is the sentinel every error of the native control and
// source layers wraps. The debuggee stays alive after one is reported;
// callers match the kind with errors.Is.
var ErrDebugger = errors.New("debugger error")

// Errorf builds an error of the debugger kind from a format string. The
// format may use %w to chain an underlying cause, such as a transport
// failure, on top of the ErrDebugger sentinel.
func Errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDebugger}, args...)...)
}
