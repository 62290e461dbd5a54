// Package config loads the client runtime settings from sessionkeeper.toml
// and SESSIONKEEPER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/continuity"
	"github.com/cbodonnell/sessionkeeper/pkg/invite"
	"github.com/cbodonnell/sessionkeeper/pkg/log"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/spf13/viper"
)

const (
	configName = "sessionkeeper"
	configType = "toml"
	configDir  = ".sessionkeeper"
	stateFile  = "state.toml"

	// EnvPrefix prefixes every environment override, as in
	// SESSIONKEEPER_STORE_URL for store.url.
	EnvPrefix = "SESSIONKEEPER"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Firebase   FirebaseConfig   `mapstructure:"firebase"`
	Local      LocalConfig      `mapstructure:"local"`
	Client     ClientConfig     `mapstructure:"client"`
	Invite     InviteConfig     `mapstructure:"invite"`
	Continuity ContinuityConfig `mapstructure:"continuity"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	// URL selects the remote store backend, see store.Open.
	URL          string        `mapstructure:"url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type FirebaseConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
	DatabaseURL     string `mapstructure:"database_url"`
	APIKey          string `mapstructure:"api_key"`
}

type LocalConfig struct {
	// StatePath is the file holding the local session pointer.
	StatePath string `mapstructure:"state_path"`
}

type ClientConfig struct {
	// WSHost and WSPort are where the presentation layer connects.
	WSHost string `mapstructure:"ws_host"`
	WSPort int    `mapstructure:"ws_port"`
	// AllowedOrigins are host patterns of the pages allowed to connect,
	// such as "localhost:*" or "game.example.com".
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxPending     int      `mapstructure:"max_pending"`
}

type InviteConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	QRCodeSize int    `mapstructure:"qr_code_size"`
}

type ContinuityConfig struct {
	MaxAge          time.Duration `mapstructure:"max_age"`
	RecentThreshold time.Duration `mapstructure:"recent_threshold"`
}

func setDefaults(v *viper.Viper, homeDir string) {
	v.SetDefault("log.level", "info")
	v.SetDefault("store.url", "memory://")
	v.SetDefault("store.poll_interval", 2*time.Second)
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.database_url", "")
	v.SetDefault("firebase.api_key", "")
	v.SetDefault("local.state_path", filepath.Join(homeDir, configDir, stateFile))
	v.SetDefault("client.ws_host", network.DefaultHost)
	v.SetDefault("client.ws_port", 8765)
	v.SetDefault("client.allowed_origins", []string{"localhost:*", "127.0.0.1:*"})
	v.SetDefault("client.max_pending", 1024)
	v.SetDefault("invite.base_url", "http://localhost:8080/")
	v.SetDefault("invite.qr_code_size", invite.DefaultQRCodeSize)
	v.SetDefault("continuity.max_age", continuity.DefaultMaxAge)
	v.SetDefault("continuity.recent_threshold", continuity.DefaultRecentThreshold)
}

// Load reads configFile, or sessionkeeper.toml from the working directory
// or ~/.sessionkeeper when configFile is empty. A missing default file is
// not an error; environment variables override the file.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	setDefaults(v, homeDir)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(homeDir, configDir))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		log.Debug("Loaded config from %s", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := log.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Store.URL == "" {
		return errors.New("store.url is empty")
	}
	if c.Local.StatePath == "" {
		return errors.New("local.state_path is empty")
	}
	if c.Client.WSHost == "" {
		return errors.New("client.ws_host is empty")
	}
	for _, pattern := range c.Client.AllowedOrigins {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("client.allowed_origins has a bad pattern %q: %w", pattern, err)
		}
	}
	if c.Client.WSPort <= 0 || c.Client.WSPort > 65535 {
		return fmt.Errorf("client.ws_port out of range: %d", c.Client.WSPort)
	}
	if !invite.ValidQRCodeSize(c.Invite.QRCodeSize) {
		return fmt.Errorf("invite.qr_code_size must be between %d and %d: %d",
			invite.MinQRCodeSize, invite.MaxQRCodeSize, c.Invite.QRCodeSize)
	}
	if c.Continuity.MaxAge <= 0 || c.Continuity.RecentThreshold <= 0 {
		return errors.New("continuity thresholds must be positive")
	}
	if c.Continuity.RecentThreshold > c.Continuity.MaxAge {
		return fmt.Errorf("continuity.recent_threshold %s exceeds continuity.max_age %s",
			c.Continuity.RecentThreshold, c.Continuity.MaxAge)
	}
	return nil
}

// LogLevel returns the parsed log level. Validate has already checked it.
func (c *Config) LogLevel() log.LogLevel {
	level, _ := log.ParseLogLevel(c.Log.Level)
	return level
}
