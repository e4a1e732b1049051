// Package config loads stax settings from viper.
package config

import (
	"github.com/spf13/viper"
)

// Config holds user settings.
type Config struct {
	// Remote is the remote branches are pushed to and fetched from.
	Remote string `mapstructure:"remote"`
	// Trunk overrides the trunk recorded by 'stax init'.
	Trunk    string `mapstructure:"trunk"`
	LogLevel string `mapstructure:"log_level"`
	UI       UI     `mapstructure:"ui"`
	Ops      Ops    `mapstructure:"ops"`
}

// UI holds output settings.
type UI struct {
	Tips  bool `mapstructure:"tips"`
	Color bool `mapstructure:"color"`
}

// Ops holds operation log settings.
type Ops struct {
	// Keep is how many receipts 'stax ops prune' keeps.
	Keep int `mapstructure:"keep"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("remote", "origin")
	v.SetDefault("log_level", "warn")
	v.SetDefault("ui.tips", true)
	v.SetDefault("ui.color", true)
	v.SetDefault("ops.keep", 100)
}

// Load decodes the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	return &cfg, nil
}
