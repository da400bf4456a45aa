package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dataset != defaultDataset {
		t.Errorf("Dataset = %q, want %q", cfg.Dataset, defaultDataset)
	}
	if cfg.Workspace != defaultWorkspace {
		t.Errorf("Workspace = %q, want %q", cfg.Workspace, defaultWorkspace)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	os.Setenv("FALCON_DATASET", "zpool/custom")
	defer os.Unsetenv("FALCON_DATASET")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dataset != "zpool/custom" {
		t.Errorf("Dataset = %q, want zpool/custom", cfg.Dataset)
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	os.Setenv("FALCON_DATASET", "zpool/custom")
	defer os.Unsetenv("FALCON_DATASET")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Set("dataset", "zpool/flag-wins"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dataset != "zpool/flag-wins" {
		t.Errorf("Dataset = %q, want zpool/flag-wins", cfg.Dataset)
	}
}
