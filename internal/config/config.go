// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/user/gitlabbot/pkg/logger"
)

// Config represents the application configuration.
type Config struct {
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Passphrase   string             `mapstructure:"passphrase"`
	Sources      []Source           `mapstructure:"sources"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

// MaxSourceNameLength bounds Source.Name.
const MaxSourceNameLength = 48

// Source is a monitored GitLab project. Token is the secret GitLab sends
// in X-Gitlab-Token and is also the subscription key.
type Source struct {
	Token   string  `mapstructure:"token"`
	Name    string  `mapstructure:"name"`
	URL     string  `mapstructure:"url"`
	UserIDs []int64 `mapstructure:"user_ids"` // chats allowed to subscribe
}

// Allows reports whether chatID may subscribe to the source.
func (s Source) Allows(chatID int64) bool {
	for _, id := range s.UserIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	LegacyDir string `mapstructure:"legacy_dir"` // verified_chats.json / chats_projects.json
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DispatchConfig bounds outbound Telegram calls.
type DispatchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"` // per API call
	Pace    time.Duration `mapstructure:"pace"`    // delay between chunks of one message
	Rate    float64       `mapstructure:"rate"`    // outbound calls per second across chats, 0 unlimited
}

// SubscriptionConfig holds defaults for new subscriptions.
type SubscriptionConfig struct {
	DefaultVerbosity int `mapstructure:"default_verbosity"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// Watch re-reads the configuration file whenever it changes and hands every
// valid result to onChange. Invalid edits are logged and ignored.
func Watch(configPath string, onChange func(*Config)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Error().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}
		logger.Info().Str("file", e.Name).Int("sources", len(cfg.Sources)).Msg("Configuration reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/bot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("dispatch.timeout", 10*time.Second)
	v.SetDefault("dispatch.pace", 250*time.Millisecond)
	v.SetDefault("dispatch.rate", 30)
	v.SetDefault("subscription.default_verbosity", 3)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("GLBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Subscription.DefaultVerbosity < 0 || c.Subscription.DefaultVerbosity > 3 {
		return fmt.Errorf("default verbosity must be between 0 and 3, got %d", c.Subscription.DefaultVerbosity)
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive")
	}
	if c.Dispatch.Rate < 0 {
		return fmt.Errorf("dispatch rate must not be negative")
	}

	seen := make(map[string]string, len(c.Sources))
	names := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.Token == "" {
			return fmt.Errorf("source %d (%q) has no token", i, s.Name)
		}
		if s.Name == "" {
			return fmt.Errorf("source %d has no name", i)
		}
		// Names travel in Telegram callback data, which is capped at 64 bytes.
		if len(s.Name) > MaxSourceNameLength {
			return fmt.Errorf("source name %q longer than %d bytes", s.Name, MaxSourceNameLength)
		}
		if other, ok := seen[s.Token]; ok {
			return fmt.Errorf("sources %q and %q share a token", other, s.Name)
		}
		if _, ok := names[s.Name]; ok {
			return fmt.Errorf("source name %q used twice", s.Name)
		}
		seen[s.Token] = s.Name
		names[s.Name] = struct{}{}
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
