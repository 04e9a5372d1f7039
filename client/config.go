package client

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Cache   CacheConfig   `toml:"cache"`
	Logging LoggingConfig `toml:"logging"`
}

type GatewayConfig struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Stream         *bool  `toml:"stream"`
}

type CacheConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

func (c GatewayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 150 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Streaming reports whether the streaming endpoint should be tried first.
func (c GatewayConfig) Streaming() bool {
	return c.Stream == nil || *c.Stream
}

func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "veritas.toml"
	}
	return filepath.Join(dir, "veritas", "config.toml")
}

func DefaultConfig() Config {
	cachePath := "veritas-cache.db"
	if dir, err := os.UserCacheDir(); err == nil {
		cachePath = filepath.Join(dir, "veritas", "cache.db")
	}
	return Config{
		Gateway: GatewayConfig{URL: "http://localhost:8080", TimeoutSeconds: 150},
		Cache:   CacheConfig{Path: cachePath},
		Logging: LoggingConfig{Level: "warn"},
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
// VERITAS_GATEWAY_URL, VERITAS_TOKEN and VERITAS_CACHE_PATH override the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("VERITAS_GATEWAY_URL")); v != "" {
		cfg.Gateway.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("VERITAS_TOKEN")); v != "" {
		cfg.Gateway.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("VERITAS_CACHE_PATH")); v != "" {
		cfg.Cache.Path = v
	}
	return cfg, nil
}

// SaveConfig writes cfg as TOML, creating the parent directory.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
