// Package config resolves Falcon's runtime configuration the way a real
// CLI tool does: CLI flags override environment variables, which override
// built-in defaults, bound together with spf13/viper.
package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultDataset      = "rpool/falcon"
	defaultWorkspace    = ".falcon"
	defaultAssetBaseURL = "https://download.oxide.computer/falcon"
	envPrefix           = "FALCON"
)

// Config is the fully resolved set of knobs Runtime needs. Field tags are
// consumed by mapstructure when Load decodes viper's merged settings, the
// way phenix decodes its own viper-backed config structs.
type Config struct {
	// Dataset is the ZFS dataset root images and node disks live under.
	Dataset string `mapstructure:"dataset"`
	// Workspace is the per-deployment working directory.
	Workspace string `mapstructure:"falcon-dir"`
	// Propolis is a user-supplied hypervisor binary path; empty means
	// Falcon downloads and caches its own.
	Propolis string `mapstructure:"propolis"`
	// Firmware is a user-supplied OVMF firmware path; empty means Falcon
	// downloads and caches its own.
	Firmware string `mapstructure:"firmware"`
	// AssetBaseURL is where base image and firmware assets are fetched
	// from when not already cached.
	AssetBaseURL string `mapstructure:"asset-base-url"`
}

// Load resolves Config from flags (if non-nil), the FALCON_* environment
// variables, and defaults, in that precedence order.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("dataset", defaultDataset)
	v.SetDefault("falcon-dir", defaultWorkspace)
	v.SetDefault("propolis", "")
	v.SetDefault("firmware", "")
	v.SetDefault("asset-base-url", defaultAssetBaseURL)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &cfg,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RegisterFlags adds the flags Load consults to fs, matching the names
// viper binds them under.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("falcon-dir", defaultWorkspace, "workspace directory for this deployment")
	fs.String("propolis", "", "path to a pre-installed hypervisor binary (skips download/cache)")
	fs.String("firmware", "", "path to a pre-installed OVMF firmware image (skips download/cache)")
	fs.String("dataset", defaultDataset, "ZFS dataset root for images and node disks")
	fs.String("asset-base-url", defaultAssetBaseURL, "base URL assets are fetched from when not cached")
}
