// Package config loads server configuration from file, environment and
// defaults via viper.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the authorization core server.
type ServerConfig struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`

	// Backend selects the durable storage: memory, mongodb or redis.
	Backend     string `mapstructure:"STORAGE_BACKEND"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`

	Issuer string `mapstructure:"ISSUER"`
	JKU    string `mapstructure:"JKU"`
	// MasterSecret, base64url-encoded, switches token issuance to
	// encryption mode when set.
	MasterSecret string `mapstructure:"MASTER_SECRET"`

	AccessTokenTTLMin int `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	IDTokenTTLMin     int `mapstructure:"ID_TOKEN_TTL_MIN"`
	CodeTTLMin        int `mapstructure:"CODE_TTL_MIN"`
	IdleSessionTTLMin int `mapstructure:"IDLE_SESSION_TTL_MIN"`
	MaxValueSizeBytes int `mapstructure:"MAX_VALUE_SIZE_BYTES"`

	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// AccessTokenTTL returns the configured access token lifetime.
func (c *ServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

func (c *ServerConfig) IDTokenTTL() time.Duration {
	return time.Duration(c.IDTokenTTLMin) * time.Minute
}

func (c *ServerConfig) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLMin) * time.Minute
}

func (c *ServerConfig) IdleSessionTTL() time.Duration {
	return time.Duration(c.IdleSessionTTLMin) * time.Minute
}

// DecodeMasterSecret returns the raw master secret bytes, or nil when
// signing mode is configured.
func (c *ServerConfig) DecodeMasterSecret() ([]byte, error) {
	if c.MasterSecret == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(c.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("config: decode MASTER_SECRET: %w", err)
	}
	return b, nil
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/accessd/")
	v.AddConfigPath("$HOME/.accessd")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/access_dev")
	v.SetDefault("MONGO_DB_NAME", "access_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PREFIX", "access")
	v.SetDefault("ISSUER", "https://access.localhost")
	v.SetDefault("JKU", "https://access.localhost/.well-known/jwks.json")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)
	v.SetDefault("ID_TOKEN_TTL_MIN", 60)
	v.SetDefault("CODE_TTL_MIN", 10)
	v.SetDefault("IDLE_SESSION_TTL_MIN", 30)
	v.SetDefault("MAX_VALUE_SIZE_BYTES", 128<<10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "accessd")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}
