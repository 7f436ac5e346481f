// Package config loads the service configuration and persists user settings.
//
// Service configuration comes from defaults, an optional agentbridge.yaml
// and AGENTBRIDGE_* environment variables, in increasing precedence. User
// settings (notes directory, provider paths, models) live in a separate
// JSON file managed by Store.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thoughttree/agentbridge/internal/logger"
)

// EnvPrefix is the prefix of environment variables that override config keys.
const EnvPrefix = "AGENTBRIDGE"

// Config holds all configuration sections.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Env      EnvConfig      `mapstructure:"env"`
	Settings SettingsConfig `mapstructure:"settings"`
	Logging  logger.Config  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// AllowedOrigins lists browser origins (scheme://host[:port]) allowed
	// besides the server's own. Requests without an Origin header are
	// not from a browser page and always pass.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionConfig tunes agent sessions.
type SessionConfig struct {
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	CancelTimeout    time.Duration `mapstructure:"cancel_timeout"`
	// Timeout bounds a whole run. Zero means none.
	Timeout         time.Duration `mapstructure:"timeout"`
	DefaultProvider string        `mapstructure:"default_provider"`
}

// PolicyConfig points at an optional YAML rule table replacing the
// built-in rules.
type PolicyConfig struct {
	File string `mapstructure:"file"`
}

// EnvConfig names an optional dotenv file merged into the agent environment.
type EnvConfig struct {
	File string `mapstructure:"file"`
}

// SettingsConfig locates the user settings file.
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7420)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("session.grace_period", 3*time.Second)
	v.SetDefault("session.handshake_timeout", 30*time.Second)
	v.SetDefault("session.cancel_timeout", 2*time.Second)
	v.SetDefault("session.timeout", time.Duration(0))
	v.SetDefault("session.default_provider", "claude")

	v.SetDefault("policy.file", "")
	v.SetDefault("env.file", "")
	v.SetDefault("settings.path", DefaultSettingsPath())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stderr")
}

// DefaultSettingsPath is config.json under the user config directory, or
// in the working directory when there is none.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(dir, "agentbridge", "config.json")
}

// Load reads configuration from defaults, the environment and a config
// file. With an empty path, agentbridge.yaml is looked up in the working
// directory and the user config directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "agentbridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	for key, d := range map[string]time.Duration{
		"session.grace_period":      cfg.Session.GracePeriod,
		"session.handshake_timeout": cfg.Session.HandshakeTimeout,
		"session.cancel_timeout":    cfg.Session.CancelTimeout,
	} {
		if d <= 0 {
			errs = append(errs, key+" must be positive")
		}
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			errs = append(errs, "server.allowed_origins: "+err.Error())
		}
	}
	if cfg.Session.Timeout < 0 {
		errs = append(errs, "session.timeout must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}
	if cfg.Settings.Path == "" {
		errs = append(errs, "settings.path is required")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%q: %w", origin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || (u.Path != "" && u.Path != "/") {
		return fmt.Errorf("%q is not of the form scheme://host[:port]", origin)
	}
	return nil
}
