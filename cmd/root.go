package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tiny64vm/tiny64/cmd/dbg"
	"github.com/tiny64vm/tiny64/cmd/tools"
	"github.com/tiny64vm/tiny64/pkg/logging"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "t64",
	Short: "Toolchain for the tiny64 register machine",
	Long: `t64 is the entry point for the tiny64 toolchain: a native debugger for
remotely running tiny64 machines plus tooling around its assembly and
debugging information formats.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(dbg.DbgCmd, tools.ToolsCmd)
	RootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().String("log-file", "", "append JSON logs to this file")
	viper.BindPFlag("log-level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-file", RootCmd.PersistentFlags().Lookup("log-file"))
	cobra.OnInitialize(initConfig, initLogging)
}

// initConfig reads in the config file and environment variables if set.
func initConfig() {
	home, err := os.UserHomeDir()
	cobra.CheckErr(err)

	// Search config in home directory with name ".t64" (without
	// extension).
	viper.AddConfigPath(home)
	viper.SetConfigType("yaml")
	viper.SetConfigName(".t64")
	viper.SetEnvPrefix("t64")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	_, err := logging.Setup(logging.Options{
		Level: viper.GetString("log-level"),
		File:  viper.GetString("log-file"),
	})
	cobra.CheckErr(err)
}
