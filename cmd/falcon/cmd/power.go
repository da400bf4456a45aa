package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newRebootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reboot <node>",
		Short: "Reboot a running node via its control API",
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
			return rt.Reboot(context.Background(), node)
		},
	}
}

func newHyperstartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hyperstart <node>",
		Short: "Power on a node's hypervisor instance via its control API",
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
			return rt.SetPower(context.Background(), node, true)
		},
	}
}

func newHyperstopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hyperstop <node>",
		Short: "Power off a node's hypervisor instance via its control API",
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
			return rt.SetPower(context.Background(), node, false)
		},
	}
}
