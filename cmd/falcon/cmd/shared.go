package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"falcon"
	"falcon/config"
	"falcon/types"
)

// loadDeployment reads the YAML topology description named by --topology
// and unmarshals it into a Deployment. Falcon's reference implementation
// builds a topology programmatically inside a Rust binary written per
// deployment; this CLI instead reads it from a file so one `falcon` binary
// can drive any topology an operator hands it.
func loadDeployment(cmd *cobra.Command) (*types.Deployment, error) {
	path, err := cmd.Flags().GetString("topology")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology %s: %w", path, err)
	}
	return types.Unmarshal(data)
}

// openForLaunch loads cfg and a freshly-described Deployment, for
// subcommands that create new host state (launch, preflight, netcreate).
func openForLaunch(cmd *cobra.Command) (*falcon.Runtime, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	dep, err := loadDeployment(cmd)
	if err != nil {
		return nil, nil, err
	}
	rt, err := falcon.Open(cfg, dep)
	if err != nil {
		return nil, nil, err
	}
	return rt, cfg, nil
}

// resume loads cfg and reconstructs a Runtime for an already-launched
// deployment from its workspace's persisted topology, for subcommands that
// operate on existing host state (destroy, info, exec, serial, reboot,
// hyperstart/hyperstop, netdestroy).
func resume(cmd *cobra.Command) (*falcon.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return falcon.Resume(cfg)
}

func nodeArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one node name argument")
	}
	return args[0], nil
}
