package debugger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn replays a canned request/response script, failing the test
// on any unexpected request.
type scriptedConn struct {
	t       *testing.T
	script  []exchange
	pending bytes.Buffer
	closed  bool
}

type exchange struct {
	request   string
	responses []string
}

func newScriptedConn(t *testing.T, script []exchange) *scriptedConn {
	return &scriptedConn{t: t, script: script}
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	line := strings.TrimSuffix(string(p), "\n")
	require.NotEmpty(c.t, c.script, "unexpected request %q", line)
	ex := c.script[0]
	c.script = c.script[1:]
	require.Equal(c.t, ex.request, line)
	for _, response := range ex.responses {
		c.pending.WriteString(response + "\n")
	}
	return len(p), nil
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	return c.pending.Read(p)
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func (c *scriptedConn) done() bool { return len(c.script) == 0 }

func newScriptedProcess(t *testing.T, script []exchange) (*RemoteProcess, *scriptedConn) {
	conn := newScriptedConn(t, script)
	return NewRemoteProcess(conn, 6, 4, Tiny64()), conn
}

func TestRemoteReadText(t *testing.T) {
	proc, conn := newScriptedProcess(t, []exchange{
		{request: "PEEKTEXT 2 2", responses: []string{"MOV R0, 1", "HALT"}},
	})
	text, err := proc.ReadText(2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"MOV R0, 1", "HALT"}, text)
	assert.True(t, conn.done())
}

func TestRemoteWriteTextValidates(t *testing.T) {
	proc, conn := newScriptedProcess(t, []exchange{
		{request: "POKETEXT 4 MOV R0, 1", responses: []string{"OK"}},
	})
	require.NoError(t, proc.WriteText(4, []string{"MOV R0, 1"}))
	assert.True(t, conn.done())

	// Malformed instructions never reach the machine.
	proc, conn = newScriptedProcess(t, nil)
	require.ErrorIs(t, proc.WriteText(4, []string{"FROB R9"}), ErrDebugger)
	assert.True(t, conn.done())
}

func TestRemoteMemoryAccess(t *testing.T) {
	proc, conn := newScriptedProcess(t, []exchange{
		{request: "PEEKDATA 16 3", responses: []string{"1 -2 3"}},
		{request: "POKEDATA 16 42", responses: []string{"OK"}},
		{request: "POKEDATA 17 -1", responses: []string{"OK"}},
	})
	words, err := proc.ReadMemory(16, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, -2, 3}, words)

	require.NoError(t, proc.WriteMemory(16, []int64{42, -1}))
	assert.True(t, conn.done())
}

func TestRemoteRegisters(t *testing.T) {
	proc, conn := newScriptedProcess(t, []exchange{
		{request: "PEEKREGS", responses: []string{"IP:3 BP:0 SP:0 R0:7"}},
		{request: "POKEREGS R0 9", responses: []string{"OK"}},
	})
	regs, err := proc.FetchRegisters()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"IP": 3, "BP": 0, "SP": 0, "R0": 7}, regs)

	require.NoError(t, proc.SetRegisters(map[string]int64{"R0": 9}))
	assert.True(t, conn.done())

	// Names outside the register file are rejected locally.
	proc, _ = newScriptedProcess(t, nil)
	require.ErrorIs(t, proc.SetRegisters(map[string]int64{"R99": 1}), ErrDebugger)
	require.ErrorIs(t, proc.SetFloatRegisters(map[string]float64{"F9": 1}), ErrDebugger)
	require.ErrorIs(t, proc.SetDebugRegisters(map[string]uint64{"D7": 1}), ErrDebugger)
}

func TestRemoteLifecycle(t *testing.T) {
	proc, conn := newScriptedProcess(t, []exchange{
		{request: "CONTINUE", responses: []string{"OK", "STOPPED"}},
		{request: "REASON", responses: []string{"SW_BKPT"}},
		{request: "SINGLESTEP", responses: []string{"OK", "STOPPED"}},
		{request: "REASON", responses: []string{"SINGLESTEP"}},
		{request: "TEXTSIZE", responses: []string{"TEXTSIZE:12"}},
		{request: "TERMINATE", responses: []string{"OK"}},
	})

	require.NoError(t, proc.ResumeExecution())
	require.NoError(t, proc.Wait())
	reason, err := proc.Reason()
	require.NoError(t, err)
	assert.Equal(t, StopSoftwareBreakpointHit, reason)

	require.NoError(t, proc.Singlestep())
	require.NoError(t, proc.Wait())
	reason, err = proc.Reason()
	require.NoError(t, err)
	assert.Equal(t, StopSinglestep, reason)

	size, err := proc.TextSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), size)

	require.NoError(t, proc.Terminate())
	assert.True(t, conn.closed)
	assert.True(t, conn.done())
}

func TestRemoteProtocolErrors(t *testing.T) {
	proc, _ := newScriptedProcess(t, []exchange{
		{request: "CONTINUE", responses: []string{"NOPE"}},
	})
	require.ErrorIs(t, proc.ResumeExecution(), ErrDebugger)

	proc, _ = newScriptedProcess(t, []exchange{
		{request: "REASON", responses: []string{"CONFUSED"}},
	})
	_, err := proc.Reason()
	require.ErrorIs(t, err, ErrDebugger)

	proc, _ = newScriptedProcess(t, []exchange{
		{request: "TEXTSIZE", responses: []string{"12"}},
	})
	_, err = proc.TextSize()
	require.ErrorIs(t, err, ErrDebugger)
}
