package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.relay/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance"`

	Server Server `toml:"server"`
	Auth   Auth   `toml:"auth"`
	Store  Store  `toml:"store"`
	Redis  Redis  `toml:"redis"`
	Log    Log    `toml:"log"`
}

// Server configures the HTTP/WebSocket gateway.
type Server struct {
	Listen       string        `toml:"listen"`
	WriteTimeout time.Duration `toml:"write_timeout"`

	// FrameRate limits inbound frames per second on one connection; 0 disables.
	FrameRate  float64 `toml:"frame_rate"`
	FrameBurst int     `toml:"frame_burst"`

	// AllowedOrigins are host patterns accepted on WebSocket upgrades besides same-origin.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Auth configures bearer credential verification.
type Auth struct {
	Secret    string        `toml:"secret"`
	Algorithm string        `toml:"algorithm"`
	AccessTTL time.Duration `toml:"access_ttl"`
}

// Store configures the SQLite persistence layer.
type Store struct {
	Path    string        `toml:"path"` // empty = instance default
	Timeout time.Duration `toml:"timeout"`
}

// Redis configures the optional presence mirror. An empty Addr disables it.
type Redis struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	TTL      time.Duration `toml:"ttl"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:       "127.0.0.1:8080",
			WriteTimeout: 5 * time.Second,
			FrameRate:    20,
			FrameBurst:   40,
		},
		Auth: Auth{
			Algorithm: "HS256",
			AccessTTL: 30 * time.Minute,
		},
		Store: Store{
			Timeout: 5 * time.Second,
		},
		Redis: Redis{
			TTL: 2 * time.Minute,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads config from the given path on top of Default().
// Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
