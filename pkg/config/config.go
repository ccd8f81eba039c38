// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable, e.g. MESH_PORT.
const envPrefix = "MESH"

// Config is the full gateway configuration.
type Config struct {
	// Host and Port bind the HTTP listener.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// BaseURL is the externally visible gateway address, stamped into
	// delegated credential metadata.
	BaseURL string `mapstructure:"base_url"`

	// VaultKey is the encryption key material. Any non-empty string is
	// accepted; non-32-byte material is hashed to key size.
	VaultKey string `mapstructure:"vault_key"`

	// SigningKey signs delegated credentials minted by the local
	// identity provider.
	SigningKey string `mapstructure:"signing_key"`

	// ConnectTimeout and RequestTimeout bound downstream MCP dials and
	// calls.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// TracingEnabled and SamplingRate control span recording.
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`

	// EnablePrometheus exposes /metrics.
	EnablePrometheus bool `mapstructure:"enable_prometheus"`

	// Debug lowers the log level to debug.
	Debug bool `mapstructure:"debug"`
}

// Load reads configuration from MESH_* environment variables over built-in
// defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8090)
	v.SetDefault("base_url", "")
	v.SetDefault("vault_key", "")
	v.SetDefault("signing_key", "")
	v.SetDefault("connect_timeout", 15*time.Second)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("sampling_rate", 0.1)
	v.SetDefault("enable_prometheus", false)
	v.SetDefault("debug", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot produce a working gateway.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.VaultKey == "" {
		return fmt.Errorf("vault key is required (MESH_VAULT_KEY)")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate %v out of range [0,1]", c.SamplingRate)
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
	return nil
}

// Address returns the listener bind address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
