package source

import "strings"

// SourceFile is an in-memory cache of the debugged program's source
// text, split into lines.
type SourceFile struct {
	lines []string
}

// NewSourceFile builds the cache from the raw source text.
func NewSourceFile(text string) *SourceFile {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return &SourceFile{}
	}
	return &SourceFile{lines: strings.Split(text, "\n")}
}

// Line returns the 0-based idx-th source line.
func (f *SourceFile) Line(idx uint64) (string, bool) {
	if idx >= uint64(len(f.lines)) {
		return "", false
	}
	return f.lines[idx], true
}

// LineCount returns the number of lines in the file.
func (f *SourceFile) LineCount() int {
	return len(f.lines)
}
