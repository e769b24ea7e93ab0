// ABOUTME: Configuration loading for coordinator, client, and demo commands
// ABOUTME: Layers defaults, an optional YAML file, .env, BERKELEY_* env vars, and flags through viper
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/harperreed/berkeley-go/internal/protocol"
)

// EnvPrefix prefixes every environment override, e.g. BERKELEY_COORDINATOR_PORT
const EnvPrefix = "BERKELEY"

// Config represents the application configuration
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Client      ClientConfig      `mapstructure:"client"`
	Wire        WireConfig        `mapstructure:"wire"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Demo        DemoConfig        `mapstructure:"demo"`
}

// CoordinatorConfig contains coordinator settings
type CoordinatorConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	RoundInterval   time.Duration `mapstructure:"round_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	MaxSkew         float64       `mapstructure:"max_skew"`
	MDNS            bool          `mapstructure:"mdns"`
	TUI             bool          `mapstructure:"tui"`
}

// Addr returns host:port
func (c CoordinatorConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientConfig contains client agent settings
type ClientConfig struct {
	Server          string        `mapstructure:"server"`
	ID              string        `mapstructure:"id"`
	Discover        bool          `mapstructure:"discover"`
	DiscoverTimeout time.Duration `mapstructure:"discover_timeout"`
}

// WireConfig selects the message encoding clients ask for
type WireConfig struct {
	Codec string `mapstructure:"codec"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Debug bool   `mapstructure:"debug"`
}

// DemoConfig contains settings for the in-process demo
type DemoConfig struct {
	Clients int           `mapstructure:"clients"`
	Stagger time.Duration `mapstructure:"stagger"`
	Rounds  int           `mapstructure:"rounds"`
}

// New returns a viper instance with defaults and env overrides wired
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Coordinator defaults
	v.SetDefault("coordinator.host", "localhost")
	v.SetDefault("coordinator.port", 5000)
	v.SetDefault("coordinator.name", "Coordinator")
	v.SetDefault("coordinator.grace_period", 5*time.Second)
	v.SetDefault("coordinator.round_interval", 20*time.Second)
	v.SetDefault("coordinator.retry_interval", 5*time.Second)
	v.SetDefault("coordinator.response_timeout", 5*time.Second)
	v.SetDefault("coordinator.max_skew", 0.0)
	v.SetDefault("coordinator.mdns", false)
	v.SetDefault("coordinator.tui", false)

	// Client defaults
	v.SetDefault("client.server", "localhost:5000")
	v.SetDefault("client.id", "")
	v.SetDefault("client.discover", false)
	v.SetDefault("client.discover_timeout", 10*time.Second)

	v.SetDefault("wire.codec", "json")

	v.SetDefault("logging.file", "")
	v.SetDefault("logging.debug", false)

	// Demo defaults
	v.SetDefault("demo.clients", 4)
	v.SetDefault("demo.stagger", 500*time.Millisecond)
	v.SetDefault("demo.rounds", 0)
}

// Load reads an optional config file into v, then decodes and validates.
// An empty configPath searches ./berkeley.yaml and ./config/berkeley.yaml;
// not finding one is fine.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("berkeley")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped;
// with no paths it tries ./.env.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// BindFlags binds config keys to flags by name, so a flag the user set
// wins over file and env
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("no flag --%s to bind to %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if c.Coordinator.Port < 0 || c.Coordinator.Port > 65535 {
		return fmt.Errorf("coordinator.port out of range: %d", c.Coordinator.Port)
	}

	durations := map[string]time.Duration{
		"coordinator.grace_period":     c.Coordinator.GracePeriod,
		"coordinator.round_interval":   c.Coordinator.RoundInterval,
		"coordinator.retry_interval":   c.Coordinator.RetryInterval,
		"coordinator.response_timeout": c.Coordinator.ResponseTimeout,
		"client.discover_timeout":      c.Client.DiscoverTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	if c.Coordinator.MaxSkew < 0 {
		return fmt.Errorf("coordinator.max_skew must not be negative, got %v", c.Coordinator.MaxSkew)
	}

	if !c.Client.Discover {
		if _, _, err := net.SplitHostPort(c.Client.Server); err != nil {
			return fmt.Errorf("client.server must be host:port: %w", err)
		}
	}

	if _, err := protocol.CodecByName(c.Wire.Codec); err != nil {
		return fmt.Errorf("wire.codec: %w", err)
	}

	if c.Demo.Clients < 1 {
		return fmt.Errorf("demo.clients must be at least 1, got %d", c.Demo.Clients)
	}
	if c.Demo.Stagger < 0 || c.Demo.Rounds < 0 {
		return fmt.Errorf("demo.stagger and demo.rounds must not be negative")
	}

	return nil
}
