// Package cmd wires Falcon's cobra subcommands to the root falcon
// package's Runtime, the way phenix/cmd wires its subcommands to the
// phenix api packages. olekukonko/tablewriter is used only here; outside
// this package, fatih/color is imported only by internal/falconlog for its
// colored level tags.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"falcon/config"
)

var rootCmd = &cobra.Command{
	Use:           "falcon",
	Short:         "Launch and drive declarative VM network topologies",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, "binding flags:", err)
	}

	rootCmd.PersistentFlags().StringP("topology", "t", "topology.yaml", "path to the topology description to load")

	rootCmd.AddCommand(newPreflightCmd())
	rootCmd.AddCommand(newLaunchCmd())
	rootCmd.AddCommand(newDestroyCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newSerialCmd())
	rootCmd.AddCommand(newRebootCmd())
	rootCmd.AddCommand(newHyperstartCmd())
	rootCmd.AddCommand(newHyperstopCmd())
	rootCmd.AddCommand(newNetCreateCmd())
	rootCmd.AddCommand(newNetDestroyCmd())
	rootCmd.AddCommand(newSnapshotCmd())
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags())
}
