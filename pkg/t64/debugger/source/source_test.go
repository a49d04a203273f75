package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiny64vm/tiny64/pkg/t64/debugger"
)

// stubNative scripts the native layer for source level tests: stepping
// advances the IP by one until the scripted stop address, breakpoint
// calls are recorded.
type stubNative struct {
	regs map[string]int64
	mem  map[uint64]int64

	stopAt   uint64
	breakAt  map[uint64]bool
	setCalls []uint64
}

func newStubNative(ip uint64) *stubNative {
	return &stubNative{
		regs:    map[string]int64{"IP": int64(ip), "BP": 0},
		mem:     map[uint64]int64{},
		stopAt:  ^uint64(0),
		breakAt: map[uint64]bool{},
	}
}

func (n *stubNative) GetRegister(name string) (int64, error) {
	value, ok := n.regs[name]
	if !ok {
		return 0, debugger.Errorf("no register %q", name)
	}
	return value, nil
}

func (n *stubNative) ReadMemory(address, amount uint64) ([]int64, error) {
	out := make([]int64, amount)
	for i := range out {
		out[i] = n.mem[address+uint64(i)]
	}
	return out, nil
}

func (n *stubNative) FrameBaseRegister() string { return "BP" }

func (n *stubNative) GetIP() (uint64, error) {
	return uint64(n.regs["IP"]), nil
}

func (n *stubNative) step() (debugger.DebugEvent, error) {
	ip := uint64(n.regs["IP"]) + 1
	n.regs["IP"] = int64(ip)
	if ip == n.stopAt {
		return debugger.ExecutionEnd{}, nil
	}
	if n.breakAt[ip] {
		return debugger.BreakpointHit{Kind: debugger.BreakpointSoftware, Address: ip}, nil
	}
	return debugger.Singlestep{}, nil
}

func (n *stubNative) PerformSingleStep() (debugger.DebugEvent, error)   { return n.step() }
func (n *stubNative) DoRawSingleStep() (debugger.DebugEvent, error)     { return n.step() }
func (n *stubNative) PerformStepOver(bool) (debugger.DebugEvent, error) { return n.step() }

func (n *stubNative) SetBreakpoint(address uint64) error {
	n.setCalls = append(n.setCalls, address)
	return nil
}
func (n *stubNative) UnsetBreakpoint(address uint64) error   { return nil }
func (n *stubNative) EnableBreakpoint(address uint64) error  { return nil }
func (n *stubNative) DisableBreakpoint(address uint64) error { return nil }

var _ Native = (*stubNative)(nil)

const testDebugInfo = `
.debug_line
0: 2
1: 5
2: 6
3: 7
4: 11
.debug_source "int main() {\n    int a = 5;\n    int b = 6;\n    return a + b;\n}"
.debug_info
compilation_unit {
	function {
		name: main;
		begin_addr: 0;
		end_addr: 12;
		variable {
			name: a;
			type: 1;
			location: [base_offset -8];
		}
		scope {
			begin_addr: 6;
			end_addr: 10;
			variable {
				name: a;
				type: 2;
				location: [base_offset -9];
			}
			variable {
				name: b;
				type: 1;
				location: [push_reg R0];
			}
		}
	}
	primitive_type {
		name: int;
		id: 1;
		size: 1;
	}
	primitive_type {
		name: float;
		id: 2;
		size: 1;
	}
}
`

func newTestSource(t *testing.T) *Source {
	t.Helper()
	src := New()
	src.Load(parseInfo(t, testDebugInfo))
	return src
}

func TestAddrToLinePicksGreatestLine(t *testing.T) {
	src := New()
	src.Load(parseInfo(t, ".debug_line\n0: 3\n1: 3\n2: 4\n"))

	line, ok := src.AddrToLine(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), line)

	line, ok = src.AddrToLine(4)
	require.True(t, ok)
	assert.Equal(t, uint64(2), line)

	_, ok = src.AddrToLine(9)
	assert.False(t, ok)
}

func TestLineMappingRoundTrip(t *testing.T) {
	src := newTestSource(t)

	// addr_to_line(line_to_addr(L)) >= L for every mapped line.
	for _, line := range []uint64{0, 1, 2, 3, 4} {
		addr, ok := src.LineToAddr(line)
		require.True(t, ok)
		back, ok := src.AddrToLine(addr)
		require.True(t, ok)
		assert.GreaterOrEqual(t, back, line)
	}
}

func TestSourceBreakpoints(t *testing.T) {
	src := newTestSource(t)
	native := newStubNative(0)

	addr, err := src.SetSourceBreakpoint(native, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), addr)
	assert.Equal(t, []uint64{5}, native.setCalls)

	_, err = src.SetSourceBreakpoint(native, 9)
	require.ErrorIs(t, err, debugger.ErrDebugger)

	empty := New()
	_, err = empty.SetSourceBreakpoint(native, 1)
	require.ErrorIs(t, err, debugger.ErrDebugger)

	// The other variants resolve through the same mapping.
	addr, err = src.DisableSourceBreakpoint(native, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), addr)
	addr, err = src.EnableSourceBreakpoint(native, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), addr)
	addr, err = src.UnsetSourceBreakpoint(native, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), addr)
}

func TestSourceLines(t *testing.T) {
	src := newTestSource(t)

	line, ok := src.Line(0)
	require.True(t, ok)
	assert.Equal(t, "int main() {", line)

	lines := src.Lines(3, 10)
	assert.Equal(t, []string{"    return a + b;", "}"}, lines)

	assert.Nil(t, New().Lines(0, 3))
}

func TestFunctionLookup(t *testing.T) {
	src := newTestSource(t)

	name, ok := src.FunctionNameByAddress(5)
	require.True(t, ok)
	assert.Equal(t, "main", name)

	_, ok = src.FunctionNameByAddress(40)
	assert.False(t, ok)

	begin, end, ok := src.FunctionAddressByName("main")
	require.True(t, ok)
	assert.Equal(t, uint64(0), begin)
	assert.Equal(t, uint64(12), end)

	_, _, ok = src.FunctionAddressByName("helper")
	assert.False(t, ok)
}

func TestResolveAddress(t *testing.T) {
	src := newTestSource(t)

	addr, err := src.ResolveAddress("2")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), addr)

	addr, err = src.ResolveAddress("main")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), addr)

	_, err = src.ResolveAddress("nothing")
	require.ErrorIs(t, err, debugger.ErrDebugger)
}

func TestActiveVariablesScoping(t *testing.T) {
	src := newTestSource(t)

	// Inside the nested scope the inner 'a' shadows the outer one.
	vars := src.ActiveVariables(7)
	require.Contains(t, vars, "a")
	require.Contains(t, vars, "b")
	location, ok := FindAttribute[AttrLocation](vars["a"])
	require.True(t, ok)
	assert.Equal(t, []LocExpr{BaseOffset{Offset: -9}}, location.Exprs)

	// Outside of it only the function-level 'a' is visible.
	vars = src.ActiveVariables(11)
	require.Contains(t, vars, "a")
	assert.NotContains(t, vars, "b")
	location, ok = FindAttribute[AttrLocation](vars["a"])
	require.True(t, ok)
	assert.Equal(t, []LocExpr{BaseOffset{Offset: -8}}, location.Exprs)

	// Outside the function nothing is in scope.
	assert.Empty(t, src.ActiveVariables(30))

	names := src.ScopedVariableNames(7)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestVariableLocation(t *testing.T) {
	src := newTestSource(t)
	native := newStubNative(11)
	native.regs["BP"] = 0x1000

	loc, err := src.VariableLocation(native, "a")
	require.NoError(t, err)
	assert.Equal(t, AddressLocation{Address: 0x0FF8}, loc)

	native.regs["IP"] = 7
	loc, err = src.VariableLocation(native, "b")
	require.NoError(t, err)
	assert.Equal(t, RegisterLocation{Name: "R0"}, loc)

	_, err = src.VariableLocation(native, "zz")
	require.ErrorIs(t, err, debugger.ErrDebugger)
}

func TestVariableTypeInformation(t *testing.T) {
	src := newTestSource(t)
	native := newStubNative(7)

	typeInfo, ok := src.VariableTypeInformation(native, "a")
	require.True(t, ok)
	assert.Equal(t, PrimitiveType{Kind: PrimitiveFloat, Width: 1}, typeInfo)

	native.regs["IP"] = 11
	typeInfo, ok = src.VariableTypeInformation(native, "a")
	require.True(t, ok)
	assert.Equal(t, PrimitiveType{Kind: PrimitiveSigned, Width: 1}, typeInfo)
}

func TestReconstructStructuredType(t *testing.T) {
	src := New()
	src.Load(parseInfo(t, `
.debug_info
compilation_unit {
	primitive_type {
		name: int;
		id: 1;
		size: 1;
	}
	structured_type {
		name: coord;
		id: 2;
		size: 2;
		members: [
			{ name: x; type: 1; offset: 0; },
			{ name: y; type: 1; offset: 1; }
		];
	}
}
`))
	typeInfo, ok := src.ReconstructTypeInformation(2)
	require.True(t, ok)
	st, isStruct := typeInfo.(StructuredType)
	require.True(t, isStruct)
	assert.Equal(t, "coord", st.Name)
	assert.Equal(t, uint64(2), st.Width)
	require.Len(t, st.Members, 2)
	assert.Equal(t, "x", st.Members[0].Name)
	assert.Equal(t, int64(1), st.Members[1].Offset)
	assert.Equal(t, PrimitiveType{Kind: PrimitiveSigned, Width: 1}, st.Members[0].Type)

	size, err := src.TypeSize(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), size)
}

func TestReconstructSelfReferentialType(t *testing.T) {
	src := New()
	src.Load(parseInfo(t, `
.debug_info
compilation_unit {
	primitive_type {
		name: int;
		id: 1;
		size: 1;
	}
	structured_type {
		name: node;
		id: 2;
		size: 2;
		members: [
			{ name: value; type: 1; offset: 0; },
			{ name: next; type: 3; offset: 1; }
		];
	}
	pointer_type {
		id: 3;
		type: 2;
		size: 1;
	}
}
`))
	typeInfo, ok := src.ReconstructTypeInformation(2)
	require.True(t, ok)
	st, isStruct := typeInfo.(StructuredType)
	require.True(t, isStruct)
	require.Len(t, st.Members, 2)

	next, isPointer := st.Members[1].Type.(PointerType)
	require.True(t, isPointer)
	assert.Equal(t, uint64(2), next.PointeeID)
	assert.Equal(t, "node", next.PointeeName)
	assert.Equal(t, "node*", next.String())
}

func TestReconstructUnknownTypes(t *testing.T) {
	src := New()
	src.Load(parseInfo(t, `
.debug_info
compilation_unit {
	primitive_type {
		name: quaternion;
		id: 1;
		size: 4;
	}
}
`))
	_, ok := src.ReconstructTypeInformation(1)
	assert.False(t, ok)
	_, ok = src.ReconstructTypeInformation(42)
	assert.False(t, ok)

	_, err := src.TypeSize(42)
	require.ErrorIs(t, err, debugger.ErrDebugger)
}

func TestStepInUntilLineBoundary(t *testing.T) {
	src := newTestSource(t)
	// Addresses 3 and 4 carry no line mapping, 5 does.
	native := newStubNative(2)

	event, err := src.StepIn(native)
	require.NoError(t, err)
	assert.Equal(t, debugger.Singlestep{}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ip)
}

func TestStepInStopsOnOtherEvents(t *testing.T) {
	src := newTestSource(t)
	native := newStubNative(2)
	native.breakAt[4] = true

	event, err := src.StepIn(native)
	require.NoError(t, err)
	assert.Equal(t, debugger.BreakpointHit{Kind: debugger.BreakpointSoftware, Address: 4}, event)
}

func TestStepOverUntilLineBoundary(t *testing.T) {
	src := newTestSource(t)
	native := newStubNative(2)

	event, err := src.StepOver(native)
	require.NoError(t, err)
	assert.Equal(t, debugger.Singlestep{}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ip)
}
