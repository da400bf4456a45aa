package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newPreflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Ensure binaries, disks, and the workspace are ready without launching anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := openForLaunch(cmd)
			if err != nil {
				return err
			}
			return rt.Preflight(context.Background())
		},
	}
}

func newLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Preflight, wire datalinks, and bring up every node in the topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := openForLaunch(cmd)
			if err != nil {
				return err
			}
			return rt.Launch(context.Background())
		},
	}
}

func newDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Tear down every node and datalink for an already-launched topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resume(cmd)
			if err != nil {
				return err
			}
			return rt.Destroy(context.Background())
		},
	}
}

func newNetCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "netcreate",
		Short: "Create datalinks for the topology without launching any nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := openForLaunch(cmd)
			if err != nil {
				return err
			}
			return rt.CreateLinks(context.Background())
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <node> <name>",
		Short: "Turn a node's current disk into a new, reusable base image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, name := args[0], args[1]

			rt, err := resume(cmd)
			if err != nil {
				return err
			}
			return rt.Snapshot(context.Background(), node, name)
		},
	}
}

func newNetDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "netdestroy",
		Short: "Remove datalinks for an already-launched topology without touching nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resume(cmd)
			if err != nil {
				return err
			}
			return rt.DestroyLinks(context.Background())
		},
	}
}
