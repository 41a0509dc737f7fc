// Package config loads surge-qx settings from defaults, an optional YAML
// file and SURGEQX_ environment variables, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/xxxbrian/surge-qx/internal/errors"
)

// EnvPrefix prefixes environment overrides, e.g. SURGEQX_SERVER_PORT.
const EnvPrefix = "SURGEQX_"

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server" yaml:"server"`
	Cache   CacheConfig   `koanf:"cache" yaml:"cache"`
	Fetch   FetchConfig   `koanf:"fetch" yaml:"fetch"`
	Convert ConvertConfig `koanf:"convert" yaml:"convert"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Port     string `koanf:"port" yaml:"port"`
	BasePath string `koanf:"base_path" yaml:"base_path"`
}

type CacheConfig struct {
	UpstreamTTL     time.Duration `koanf:"upstream_ttl" yaml:"upstream_ttl"`
	ResultTTL       time.Duration `koanf:"result_ttl" yaml:"result_ttl"`
	PersistPath     string        `koanf:"persist_path" yaml:"persist_path"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" yaml:"cleanup_interval"`
	RefreshInterval time.Duration `koanf:"refresh_interval" yaml:"refresh_interval"`
	// UpstreamMaxIdle evicts lists no client asked for within the window. Zero keeps them forever.
	UpstreamMaxIdle time.Duration `koanf:"upstream_max_idle" yaml:"upstream_max_idle"`
}

type FetchConfig struct {
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	UserAgent string        `koanf:"user_agent" yaml:"user_agent"`
}

// ConvertConfig holds defaults for the convert command.
type ConvertConfig struct {
	Policy string `koanf:"policy" yaml:"policy"`
}

type LogConfig struct {
	File       string `koanf:"file" yaml:"file"`
	MaxSize    int    `koanf:"max_size" yaml:"max_size"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
	MaxAge     int    `koanf:"max_age" yaml:"max_age"`
	Compress   bool   `koanf:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
}

// Defaults returns the built-in configuration values keyed by koanf path.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":             "8080",
		"server.base_path":        "",
		"cache.upstream_ttl":      "30m",
		"cache.result_ttl":        "24h",
		"cache.persist_path":      "",
		"cache.cleanup_interval":  "10m",
		"cache.refresh_interval":  "30m",
		"cache.upstream_max_idle": "168h",
		"fetch.timeout":           "60s",
		"fetch.user_agent":        "Surge-QX-Go/1.0",
		"convert.policy":          "proxy",
		"log.file":                "",
		"log.max_size":            10,
		"log.max_backups":         3,
		"log.max_age":             28,
		"log.compress":            false,
		"metrics.enabled":         true,
	}
}

// Load builds the configuration. path may be empty; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigLoad, "config file %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigLoad, "failed to parse %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load environment")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to decode configuration")
	}
	return &cfg, nil
}

// envKey maps SURGEQX_CACHE_RESULT_TTL to cache.result_ttl: the first
// underscore separates the section, the rest belong to the key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + key
}
