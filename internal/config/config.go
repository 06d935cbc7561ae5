// Package config loads nfcard settings from defaults, an optional YAML file
// and NFCARD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// NFCARD_SERVER_PORT for server.port.
const EnvPrefix = "NFCARD"

// Config is the full application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Reader ReaderConfig `mapstructure:"reader" yaml:"reader"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// EngineConfig tunes the read orchestrator.
type EngineConfig struct {
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	TechnologyTimeout time.Duration `mapstructure:"technology_timeout" yaml:"technology_timeout"`
}

// ServerConfig configures the WebSocket agent.
type ServerConfig struct {
	Port          int           `mapstructure:"port" yaml:"port"`
	MDNS          bool          `mapstructure:"mdns" yaml:"mdns"`
	DeviceTimeout time.Duration `mapstructure:"device_timeout" yaml:"device_timeout"`
}

// ReaderConfig configures the local libnfc reader.
type ReaderConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Device       string        `mapstructure:"device" yaml:"device"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "nfcard")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", false)

	// -- Engine --
	v.SetDefault("engine.queue_size", 8)
	v.SetDefault("engine.technology_timeout", "2s")

	// -- Server --
	v.SetDefault("server.port", 18080)
	v.SetDefault("server.mdns", true)
	v.SetDefault("server.device_timeout", "30s")

	// -- Reader --
	v.SetDefault("reader.enabled", false)
	v.SetDefault("reader.device", "")
	v.SetDefault("reader.poll_interval", "250ms")
}

// NewDefaultConfig returns the configuration with every default applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Configure points v at the config file, or at ./nfcard.yaml when file is
// empty, and enables NFCARD_ environment overrides.
func Configure(v *viper.Viper, file string) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("nfcard")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file, if any, and returns the validated configuration.
// A missing default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper, file string) (*Config, error) {
	Configure(v, file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if c.Engine.TechnologyTimeout <= 0 {
		return fmt.Errorf("engine.technology_timeout must be a positive duration")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.DeviceTimeout <= 0 {
		return fmt.Errorf("server.device_timeout must be a positive duration")
	}
	if c.Reader.Enabled && c.Reader.PollInterval <= 0 {
		return fmt.Errorf("reader.poll_interval must be a positive duration")
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}
