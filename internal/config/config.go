// Package config loads runtime settings from BABYLOG_* environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "BABYLOG"

type Config struct {
	Port            string        `mapstructure:"port"`
	DBPath          string        `mapstructure:"db_path"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	SummaryCacheTTL time.Duration `mapstructure:"summary_cache_ttl"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimitRead   int           `mapstructure:"rate_limit_read"`
	RateLimitWrite  int           `mapstructure:"rate_limit_write"`
}

var ErrJWTSecretRequired = errors.New("jwt_secret is required (set BABYLOG_JWT_SECRET)")

// New returns a viper instance with defaults and environment binding set
// up. Flags may be bound to it before Load is called.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "babylog.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", 720*time.Hour)
	v.SetDefault("idempotency_ttl", 24*time.Hour)
	v.SetDefault("sweep_interval", time.Hour)
	v.SetDefault("redis_addr", "")
	v.SetDefault("summary_cache_ttl", 10*time.Minute)
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("rate_limit_read", 240)
	v.SetDefault("rate_limit_write", 60)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitOrigins(cfg.CORSOrigins)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitOrigins accepts both a list and a single comma separated value, the
// latter being what an environment variable provides.
func splitOrigins(in []string) []string {
	var out []string
	for _, s := range in {
		for _, o := range strings.Split(s, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	switch {
	case c.Port == "":
		return errors.New("port must not be empty")
	case c.DBPath == "":
		return errors.New("db_path must not be empty")
	case c.TokenTTL <= 0:
		return errors.New("token_ttl must be positive")
	case c.IdempotencyTTL <= 0:
		return errors.New("idempotency_ttl must be positive")
	case c.SweepInterval <= 0:
		return errors.New("sweep_interval must be positive")
	case c.SummaryCacheTTL <= 0:
		return errors.New("summary_cache_ttl must be positive")
	}
	return nil
}

// RequireSecret is checked by commands that issue or verify tokens.
func (c *Config) RequireSecret() error {
	if c.JWTSecret == "" {
		return ErrJWTSecretRequired
	}
	return nil
}
