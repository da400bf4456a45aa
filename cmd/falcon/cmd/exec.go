package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newExecCmd() *cobra.Command {
	var timeout time.Duration

	c := &cobra.Command{
		Use:   "exec <node> -- <command...>",
		Short: "Run a command on a node's serial console and print its output",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			node := args[0]
			command := strings.Join(args[1:], " ")

			rt, err := resume(cmd)
			if err != nil {
				return err
			}

			out, err := rt.Exec(context.Background(), node, command, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	c.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the command to finish")
	return c
}

func newSerialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serial <node>",
		Short: "Attach to a node's serial console login session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := nodeArg(args)
			if err != nil {
				return err
			}

			rt, err := resume(cmd)
			if err != nil {
				return err
			}

			cmdr, err := rt.Serial(context.Background(), node)
			if err != nil {
				return err
			}
			defer cmdr.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s, state %s\n", node, cmdr.State())
			return nil
		},
	}
}
