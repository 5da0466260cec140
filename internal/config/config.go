// Package config loads device-local configuration for the sync engine.
//
// Values come from an optional config file (mis.yaml in the data dir or
// working directory) with MIS_-prefixed environment variables taking
// precedence.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all device-local settings the sync engine consumes.
type Config struct {
	ServerURL string `mapstructure:"server_url"`
	Passcode  string `mapstructure:"passcode"`
	User      string `mapstructure:"user"`
	DataDir   string `mapstructure:"data_dir"`
	LogFile   string `mapstructure:"log_file"`
	LogLevel  string `mapstructure:"log_level"`
	Listen    string `mapstructure:"listen"`

	// SyncInterval drives the platform-style periodic background trigger;
	// ForegroundInterval drives the in-app timer. Both may fire a pass.
	SyncInterval       time.Duration `mapstructure:"sync_interval"`
	ForegroundInterval time.Duration `mapstructure:"foreground_interval"`

	// WifiOnly restricts sync passes to the named network type.
	WifiOnly    bool   `mapstructure:"wifi_only"`
	NetworkType string `mapstructure:"network_type"`
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("user", "default")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("listen", "localhost:8090")
	v.SetDefault("sync_interval", 15*time.Minute)
	v.SetDefault("foreground_interval", 5*time.Minute)
	v.SetDefault("wifi_only", false)
	v.SetDefault("network_type", "wifi")

	v.SetEnvPrefix("MIS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("mis")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./data")
		// Config file is optional; env and defaults suffice.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
