package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the settings for the agent.
type Config struct {
	ServerHost string `mapstructure:"server_host"`
	ServerTLS  bool   `mapstructure:"server_tls"`
	ServerPort int    `mapstructure:"server_port"`

	SerialNumber string `mapstructure:"serial_number"`
	Fingerprint  string `mapstructure:"fingerprint"`
	PrinterType  int    `mapstructure:"printer_type"`
	Version      int    `mapstructure:"version"`
	Subversion   int    `mapstructure:"subversion"`
	Firmware     string `mapstructure:"firmware"`

	// Token is set once the device has been registered; leave empty to
	// trigger the registration handshake on startup.
	Token string `mapstructure:"token"`

	FilesRoot    string `mapstructure:"files_root"`
	TelemetrySec int    `mapstructure:"telemetry_seconds"`
	KeepPartial  bool   `mapstructure:"keep_partial_downloads"`
	LogLevel     string `mapstructure:"log_level"`
}

// LoadConfig initializes Viper and merges all config sources: defaults,
// the config file if present, then CONNECT_-prefixed env vars.
func LoadConfig(path string) (*Config, error) {
	viper.SetDefault("server_tls", true)
	viper.SetDefault("telemetry_seconds", 1)
	viper.SetDefault("files_root", "/var/lib/connect-agent/files")
	viper.SetDefault("log_level", "info")

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// A missing config file is fine; env vars may carry everything.
	_ = viper.ReadInConfig()

	viper.SetEnvPrefix("CONNECT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	err := viper.Unmarshal(&cfg)
	return &cfg, err
}
