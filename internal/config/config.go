package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "HAEX_SYNC"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "haex-sync.db"
	defaultLogLevel      = "info"
	defaultEnvironment   = "development"
	defaultAllowedOrigin = "*"
)

// AppConfig captures runtime configuration for the sync API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	Environment    string
	AllowedOrigins []string
	AuthJWKSURL    string
	AuthAudience   string
	AuthIssuers    []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("environment", defaultEnvironment)
	configViper.SetDefault("cors.allowed_origins", []string{defaultAllowedOrigin})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		Environment:    configViper.GetString("environment"),
		AllowedOrigins: configViper.GetStringSlice("cors.allowed_origins"),
		AuthJWKSURL:    configViper.GetString("auth.jwks_url"),
		AuthAudience:   configViper.GetString("auth.audience"),
		AuthIssuers:    configViper.GetStringSlice("auth.issuers"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AuthJWKSURL) == "" {
		return fmt.Errorf("auth.jwks_url is required")
	}
	if strings.TrimSpace(c.AuthAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if len(c.AuthIssuers) == 0 {
		return fmt.Errorf("auth.issuers must not be empty")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins must not be empty")
	}
	return nil
}
