// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Database Database `mapstructure:"database"`

	Cache struct {
		Commits int `mapstructure:"commits"` // decoded commits kept in memory
	} `mapstructure:"cache"`

	Sync Sync `mapstructure:"sync"`

	Hash        string `mapstructure:"hash"`        // native, gogit
	Environment string `mapstructure:"environment"` // dev, prod
	LogLevel    string `mapstructure:"log_level"`   // debug, info, warn, error
}

type Database struct {
	Driver   string `mapstructure:"driver"` // badger, sqlite
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// Sync configures the replica poller. An empty Remote disables it.
type Sync struct {
	Remote    string        `mapstructure:"remote"`
	Interval  time.Duration `mapstructure:"interval"`
	Org       string        `mapstructure:"org"`
	Repo      string        `mapstructure:"repo"`
	Branches  []string      `mapstructure:"branches"`
	Reconcile bool          `mapstructure:"reconcile"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7420)
	v.SetDefault("database.driver", "badger")
	v.SetDefault("database.path", ".relgit/db")
	v.SetDefault("database.in_memory", false)
	v.SetDefault("cache.commits", 256)
	v.SetDefault("hash", "native")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.branches", []string{"main"})
}

// Load reads path (JSON, YAML or TOML by extension) layered over defaults
// and RELGIT_* environment variables. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("RELGIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "badger", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		return errors.New("database.path is required unless database.in_memory is set")
	}
	switch c.Hash {
	case "native", "gogit":
	default:
		return fmt.Errorf("unknown hash provider %q", c.Hash)
	}
	if c.Sync.Remote != "" {
		if c.Sync.Org == "" || c.Sync.Repo == "" {
			return errors.New("sync.org and sync.repo are required when sync.remote is set")
		}
		if c.Sync.Interval <= 0 {
			return errors.New("sync.interval must be positive")
		}
	}
	return nil
}

// Addr is the listen address of the transport server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
