// Package config loads the chat client settings from the TOML config file
// and ONCOCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	SourceRemote = "remote"
	SourceLocal  = "local"

	SendHTTP = "http"
	SendPush = "push"

	envPrefix = "ONCOCHAT"
)

// Config holds the client settings.
type Config struct {
	Server         string `toml:"server" mapstructure:"server"`
	Token          string `toml:"token" mapstructure:"token"`
	Timezone       string `toml:"timezone" mapstructure:"timezone"`
	SessionSource  string `toml:"session_source" mapstructure:"session_source"`
	SendVia        string `toml:"send_via" mapstructure:"send_via"`
	PushEnabled    bool   `toml:"push_enabled" mapstructure:"push_enabled"`
	RequestTimeout string `toml:"request_timeout" mapstructure:"request_timeout"`
	LogLevel       string `toml:"log_level" mapstructure:"log_level"`
	LogFile        string `toml:"log_file" mapstructure:"log_file"`
}

// NewDefaultConfig returns the built-in settings.
func NewDefaultConfig() *Config {
	return &Config{
		Server:         "http://localhost:8080",
		Timezone:       "America/Los_Angeles",
		SessionSource:  SourceRemote,
		SendVia:        SendHTTP,
		PushEnabled:    true,
		RequestTimeout: "30s",
		LogLevel:       "info",
		LogFile:        filepath.Join(Dir(), "oncochat.log"),
	}
}

// Dir is the directory holding config.toml and the log file.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".oncochat")
	}
	return filepath.Join(home, ".config", "oncochat")
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads cfgFile (or the default location when empty), applies
// environment overrides and validates the result. A missing default file
// is not an error.
func Load(cfgFile string) (*Config, string, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := NewDefaultConfig()
	v.SetDefault("server", defaults.Server)
	v.SetDefault("token", defaults.Token)
	v.SetDefault("timezone", defaults.Timezone)
	v.SetDefault("session_source", defaults.SessionSource)
	v.SetDefault("send_via", defaults.SendVia)
	v.SetDefault("push_enabled", defaults.PushEnabled)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_file", defaults.LogFile)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("toml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

// Validate checks enumerations and cross-field rules.
func (c *Config) Validate() error {
	c.Server = strings.TrimRight(strings.TrimSpace(c.Server), "/")
	c.SessionSource = strings.ToLower(strings.TrimSpace(c.SessionSource))
	c.SendVia = strings.ToLower(strings.TrimSpace(c.SendVia))

	if c.Server == "" {
		return errors.New("server must not be empty")
	}
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return fmt.Errorf("server %q must start with http:// or https://", c.Server)
	}
	switch c.SessionSource {
	case SourceRemote, SourceLocal:
	default:
		return fmt.Errorf("invalid session_source %q (want %s or %s)", c.SessionSource, SourceRemote, SourceLocal)
	}
	switch c.SendVia {
	case SendHTTP, SendPush:
	default:
		return fmt.Errorf("invalid send_via %q (want %s or %s)", c.SendVia, SendHTTP, SendPush)
	}
	if c.SendVia == SendPush && !c.PushEnabled {
		return errors.New("send_via = \"push\" requires push_enabled = true")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout parses request_timeout.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", c.RequestTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid request_timeout %q: must be positive", c.RequestTimeout)
	}
	return d, nil
}

// WriteDefault creates path with the default settings. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at: %s", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(NewDefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// MaskToken hides all but the last four characters of a token.
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}
