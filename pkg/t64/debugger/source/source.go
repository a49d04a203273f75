package source

import (
	"strconv"

	"github.com/tiny64vm/tiny64/pkg/t64/debugger"
)

// Native is the slice of the native control layer the source layer
// drives. *debugger.Native implements it.
type Native interface {
	NativeReader
	SetBreakpoint(address uint64) error
	UnsetBreakpoint(address uint64) error
	EnableBreakpoint(address uint64) error
	DisableBreakpoint(address uint64) error
	GetIP() (uint64, error)
	PerformSingleStep() (debugger.DebugEvent, error)
	PerformStepOver(skipBreakpoint bool) (debugger.DebugEvent, error)
	DoRawSingleStep() (debugger.DebugEvent, error)
}

var _ Native = (*debugger.Native)(nil)

// Source handles the logic behind source-level debugging: line to address
// mapping, source-level breakpoints and stepping, variable and type
// lookup. All of it degrades gracefully when the corresponding debug
// information is missing.
type Source struct {
	lineMapping *LineMapping
	sourceFile  *SourceFile
	topDIE      *DIE

	// typeCache breaks cycles in recursive type reconstruction and is
	// reset whenever a new DIE tree is loaded.
	typeCache map[uint64]Type
}

// New creates an empty source layer.
func New() *Source {
	return &Source{typeCache: make(map[uint64]Type)}
}

// Load installs freshly parsed debug information. Each part the new info
// carries (line mapping, source text, DIE tree) replaces the current one;
// parts it lacks keep their previous value. Borrowed DIE references become
// invalid when a new DIE tree is loaded.
func (s *Source) Load(info DebuggingInfo) {
	if info.LineMapping != nil {
		s.lineMapping = info.LineMapping
	}
	if info.SourceFile != nil {
		s.sourceFile = info.SourceFile
	}
	if info.TopDIE != nil {
		s.topDIE = info.TopDIE
		s.typeCache = make(map[uint64]Type)
	}
}

// --- Source-level breakpoints ---

// SetSourceBreakpoint sets a breakpoint at the address the source line
// maps to and returns that address.
func (s *Source) SetSourceBreakpoint(native Native, line uint64) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	return addr, native.SetBreakpoint(addr)
}

// UnsetSourceBreakpoint removes the breakpoint at the source line.
func (s *Source) UnsetSourceBreakpoint(native Native, line uint64) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	return addr, native.UnsetBreakpoint(addr)
}

// EnableSourceBreakpoint re-arms the breakpoint at the source line.
func (s *Source) EnableSourceBreakpoint(native Native, line uint64) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	return addr, native.EnableBreakpoint(addr)
}

// DisableSourceBreakpoint disarms the breakpoint at the source line.
func (s *Source) DisableSourceBreakpoint(native Native, line uint64) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	return addr, native.DisableBreakpoint(addr)
}

func (s *Source) lineAddress(line uint64) (uint64, error) {
	if s.lineMapping == nil {
		return 0, debugger.Errorf("no debug info for line mapping")
	}
	addr, ok := s.lineMapping.Address(line)
	if !ok {
		return 0, debugger.Errorf("no debug info for line %d", line)
	}
	return addr, nil
}

// --- Line mapping ---

// AddrToLine returns the source line for an instruction address. When
// several lines alias the address the greatest one wins.
func (s *Source) AddrToLine(address uint64) (uint64, bool) {
	if s.lineMapping == nil {
		return 0, false
	}
	lines := s.lineMapping.Lines(address)
	if len(lines) == 0 {
		return 0, false
	}
	return lines[len(lines)-1], true
}

// LineToAddr returns the instruction address a source line maps to.
func (s *Source) LineToAddr(line uint64) (uint64, bool) {
	if s.lineMapping == nil {
		return 0, false
	}
	return s.lineMapping.Address(line)
}

// ResolveAddress resolves a breakpoint target given as text: a number is
// treated as a source line, anything else as a function name.
func (s *Source) ResolveAddress(spec string) (uint64, error) {
	if line, err := strconv.ParseUint(spec, 10, 64); err == nil {
		return s.lineAddress(line)
	}
	begin, _, ok := s.FunctionAddressByName(spec)
	if !ok {
		return 0, debugger.Errorf("no function named %q", spec)
	}
	return begin, nil
}

// --- Source text ---

// Line returns the 0-based idx-th line of the cached source text.
func (s *Source) Line(idx uint64) (string, bool) {
	if s.sourceFile == nil {
		return "", false
	}
	return s.sourceFile.Line(idx)
}

// Lines returns up to amount source lines starting at idx. It stops at
// the end of the file instead of failing.
func (s *Source) Lines(idx, amount uint64) []string {
	if s.sourceFile == nil {
		return nil
	}
	var lines []string
	for i := uint64(0); i < amount; i++ {
		line, ok := s.sourceFile.Line(idx + i)
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	return lines
}

// --- Functions ---

// FunctionNameByAddress returns the name of the function whose address
// range contains the address. Nested functions are not supported, only
// top-level function DIEs are searched.
func (s *Source) FunctionNameByAddress(address uint64) (string, bool) {
	if s.topDIE == nil {
		return "", false
	}
	for _, die := range s.topDIE.Children() {
		if die.Tag() != TagFunction || !die.ContainsAddress(address) {
			continue
		}
		if name, ok := FindAttribute[AttrName](die); ok {
			return name.Name, true
		}
	}
	return "", false
}

// FunctionAddressByName returns the [begin, end) address range of the
// named function.
func (s *Source) FunctionAddressByName(name string) (uint64, uint64, bool) {
	if s.topDIE == nil {
		return 0, 0, false
	}
	for _, die := range s.topDIE.Children() {
		if die.Tag() != TagFunction {
			continue
		}
		nameAttr, ok := FindAttribute[AttrName](die)
		if !ok || nameAttr.Name != name {
			continue
		}
		begin, hasBegin := FindAttribute[AttrBeginAddr](die)
		end, hasEnd := FindAttribute[AttrEndAddr](die)
		if !hasBegin || !hasEnd {
			return 0, 0, false
		}
		return begin.Addr, end.Addr, true
	}
	return 0, 0, false
}

// --- Variables ---

// ActiveVariables returns the variable DIEs in scope at the address,
// keyed by name. Scope containment is decided by address-range
// membership during a top-down walk; inner definitions shadow outer ones
// of the same name.
func (s *Source) ActiveVariables(address uint64) map[string]*DIE {
	result := make(map[string]*DIE)
	if s.topDIE != nil {
		collectVariables(s.topDIE, address, result)
	}
	return result
}

func collectVariables(die *DIE, address uint64, result map[string]*DIE) {
	if die.Tag() == TagVariable {
		if name, ok := FindAttribute[AttrName](die); ok {
			result[name.Name] = die
		}
		return
	}
	if die.Tag() == TagFunction || die.Tag() == TagScope {
		if !die.ContainsAddress(address) {
			return
		}
	}
	for _, child := range die.Children() {
		collectVariables(child, address, result)
	}
}

// ScopedVariableNames returns the names of all variables in scope at the
// address.
func (s *Source) ScopedVariableNames(address uint64) []string {
	vars := s.ActiveVariables(address)
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	return names
}

// VariableLocation computes where the named variable lives right now, by
// running its location program against the live debuggee.
func (s *Source) VariableLocation(native Native, name string) (Location, error) {
	die, err := s.variableDIE(native, name)
	if err != nil {
		return nil, err
	}
	location, ok := FindAttribute[AttrLocation](die)
	if !ok || len(location.Exprs) == 0 {
		return nil, debugger.Errorf("variable %q has no location", name)
	}
	return InterpretLocation(location.Exprs, native)
}

// VariableTypeInformation reconstructs the named variable's type.
func (s *Source) VariableTypeInformation(native Native, name string) (Type, bool) {
	die, err := s.variableDIE(native, name)
	if err != nil {
		return nil, false
	}
	typeAttr, ok := FindAttribute[AttrType](die)
	if !ok {
		return nil, false
	}
	return s.ReconstructTypeInformation(typeAttr.TypeID)
}

func (s *Source) variableDIE(native Native, name string) (*DIE, error) {
	ip, err := native.GetIP()
	if err != nil {
		return nil, err
	}
	die, ok := s.ActiveVariables(ip)[name]
	if !ok {
		return nil, debugger.Errorf("no variable %q in scope", name)
	}
	return die, nil
}

// --- Types ---

// ReconstructTypeInformation builds the type identified by the DIE id.
// Pointer chains reference their pointee by id only, and reconstructed
// structures are cached, so self-referential types stay finite.
func (s *Source) ReconstructTypeInformation(id uint64) (Type, bool) {
	if cached, ok := s.typeCache[id]; ok {
		return cached, true
	}
	if s.topDIE == nil {
		return nil, false
	}
	die := FindDIEByID(s.topDIE, id)
	if die == nil {
		return nil, false
	}

	switch die.Tag() {
	case TagPrimitiveType:
		name, ok := FindAttribute[AttrName](die)
		if !ok {
			return nil, false
		}
		kind, known := primitiveKindByName[name.Name]
		if !known {
			return nil, false
		}
		size, ok := FindAttribute[AttrSize](die)
		if !ok {
			return nil, false
		}
		return PrimitiveType{Kind: kind, Width: size.Size}, true

	case TagStructuredType:
		name, ok := FindAttribute[AttrName](die)
		if !ok {
			return nil, false
		}
		result := StructuredType{Name: name.Name}
		if size, ok := FindAttribute[AttrSize](die); ok {
			result.Width = size.Size
		} else {
			return result, true
		}
		members, ok := FindAttribute[AttrMembers](die)
		if !ok {
			return result, true
		}
		// Cache the incomplete struct first so member chains that
		// point back at it terminate.
		s.typeCache[id] = result
		for _, member := range members.Members {
			memberType, _ := s.ReconstructTypeInformation(member.TypeID)
			result.Members = append(result.Members, StructMember{
				Name:   member.Name,
				Offset: member.Offset,
				Type:   memberType,
			})
		}
		s.typeCache[id] = result
		return result, true

	case TagPointerType:
		pointee, ok := FindAttribute[AttrType](die)
		if !ok {
			return nil, false
		}
		size, ok := FindAttribute[AttrSize](die)
		if !ok {
			return nil, false
		}
		pointeeDIE := FindDIEByID(s.topDIE, pointee.TypeID)
		if pointeeDIE == nil {
			return nil, false
		}
		pointeeName, ok := FindAttribute[AttrName](pointeeDIE)
		if !ok {
			return nil, false
		}
		result := PointerType{
			PointeeID:   pointee.TypeID,
			PointeeName: pointeeName.Name,
			Width:       size.Size,
		}
		s.typeCache[id] = result
		return result, true

	default:
		return nil, false
	}
}

// TypeSize returns the size of the type identified by the DIE id.
func (s *Source) TypeSize(id uint64) (uint64, error) {
	typeInfo, ok := s.ReconstructTypeInformation(id)
	if !ok {
		return 0, debugger.Errorf("no information about type with id %d", id)
	}
	return typeInfo.Size(), nil
}

// --- Source-level stepping ---

// StepIn steps one source line, descending into calls: after an initial
// step it keeps raw-stepping until the IP lands on an address with a line
// mapping. Any event other than a finished step stops the walk.
func (s *Source) StepIn(native Native) (debugger.DebugEvent, error) {
	event, err := native.PerformSingleStep()
	if err != nil {
		return nil, err
	}
	for s.betweenLines(native, event) {
		event, err = native.DoRawSingleStep()
		if err != nil {
			return nil, err
		}
	}
	return event, nil
}

// StepOver steps one source line without descending into calls. The
// native step-over primitive honours breakpoints inside skipped calls.
func (s *Source) StepOver(native Native) (debugger.DebugEvent, error) {
	event, err := native.PerformStepOver(true)
	if err != nil {
		return nil, err
	}
	for s.betweenLines(native, event) {
		event, err = native.PerformStepOver(false)
		if err != nil {
			return nil, err
		}
	}
	return event, nil
}

// betweenLines reports whether stepping finished on an address without a
// line mapping, meaning a source-level step is not done yet.
func (s *Source) betweenLines(native Native, event debugger.DebugEvent) bool {
	if _, stepped := event.(debugger.Singlestep); !stepped {
		return false
	}
	ip, err := native.GetIP()
	if err != nil {
		return false
	}
	_, mapped := s.AddrToLine(ip)
	return !mapped
}
