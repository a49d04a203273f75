package tools

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tiny64vm/tiny64/pkg/t64/asm"
	"github.com/tiny64vm/tiny64/pkg/t64/debugger/source"
	"github.com/tiny64vm/tiny64/pkg/utils"
)

// dumpCmd parses a program file and prints its canonical structure.
var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Parse a program file and dump its structure as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dump(args[0], cmd.OutOrStdout())
	},
}

type functionDump struct {
	Name  string `yaml:"name"`
	Begin uint64 `yaml:"begin"`
	End   uint64 `yaml:"end"`
}

type dumpOutput struct {
	Instructions []string          `yaml:"instructions"`
	Data         []int64           `yaml:"data,omitempty"`
	Lines        map[uint64]uint64 `yaml:"lines,omitempty"`
	Functions    []functionDump    `yaml:"functions,omitempty"`
}

func dump(path string, out io.Writer) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading program: %w", err)
	}
	text := string(content)

	asmParser, err := asm.NewParser(strings.NewReader(text))
	if err != nil {
		return err
	}
	program, err := asmParser.Parse()
	if err != nil {
		return err
	}

	infoParser, err := source.NewStringParser(text)
	if err != nil {
		return err
	}
	info, err := infoParser.Parse()
	if err != nil {
		return err
	}

	output := dumpOutput{
		Instructions: utils.Map(program.Instructions, func(ins asm.Instruction) string {
			return ins.String()
		}),
		Data: program.Data,
	}
	if info.LineMapping != nil {
		output.Lines = info.LineMapping.Entries()
	}
	if info.TopDIE != nil {
		output.Functions = collectFunctions(info.TopDIE)
	}

	encoder := yaml.NewEncoder(out)
	defer encoder.Close()
	return encoder.Encode(output)
}

func collectFunctions(top *source.DIE) []functionDump {
	var functions []functionDump
	for _, die := range top.Children() {
		if die.Tag() != source.TagFunction {
			continue
		}
		name, ok := source.FindAttribute[source.AttrName](die)
		if !ok {
			continue
		}
		fn := functionDump{Name: name.Name}
		if begin, ok := source.FindAttribute[source.AttrBeginAddr](die); ok {
			fn.Begin = begin.Addr
		}
		if end, ok := source.FindAttribute[source.AttrEndAddr](die); ok {
			fn.End = end.Addr
		}
		functions = append(functions, fn)
	}
	return functions
}
