package config

import (
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ViperConfig reads keys through a viper instance. Keys are looked up exactly
// as written (MCLOAD_FILES_DIR), which viper matches against bound flags,
// the environment and an optional config file.
type ViperConfig struct {
	keyReader
	v *viper.Viper
}

func NewViperConfig(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	c := &ViperConfig{v: v}
	c.keyReader = keyReader{lookup: v.GetString}
	return c
}

func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

func (c *ViperConfig) LoadFromPath(path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return err
	}

	c.v.SetConfigFile(expanded)
	return c.Load()
}

// Load reads the config file if one has been set. With no file configured it
// is a no-op and lookups fall through to flags and the environment.
func (c *ViperConfig) Load() error {
	if c.v.ConfigFileUsed() == "" {
		return nil
	}

	return c.v.ReadInConfig()
}
