// Package tools groups developer tooling around the tiny64 text formats.
package tools

import "github.com/spf13/cobra"

// ToolsCmd is the parent of the tooling subcommands.
var ToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Tooling around the tiny64 assembly and debug info formats",
}

func init() {
	ToolsCmd.AddCommand(dumpCmd)
}
