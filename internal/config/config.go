// Package config loads neai configuration.
//
// Precedence, highest first: command-line flags (applied by the CLI),
// NEAI_* environment variables, the YAML file, built-in defaults.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/neai/internal/guard"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "NEAI_"
	maxConfigFileSize = 1024 * 1024
)

// Config is the complete client configuration.
type Config struct {
	Backend BackendConfig `koanf:"backend"`
	Poll    PollConfig    `koanf:"poll"`
	Upload  guard.Policy  `koanf:"upload"`
	Watch   WatchConfig   `koanf:"watch"`
	Web     WebConfig     `koanf:"web"`
	Store   StoreConfig   `koanf:"store"`
}

type BackendConfig struct {
	URL           string        `koanf:"url"`
	Token         string        `koanf:"token"`
	Timeout       time.Duration `koanf:"timeout"`
	RetryMaxTries uint          `koanf:"retry_max_tries"`
	RetryInitial  time.Duration `koanf:"retry_initial"`
	RetryMax      time.Duration `koanf:"retry_max"`
}

type PollConfig struct {
	Interval time.Duration `koanf:"interval"`
}

type WatchConfig struct {
	// Settle is how long a file must stay unchanged before it is uploaded.
	Settle time.Duration `koanf:"settle"`
}

type WebConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

// DefaultPath returns ~/.config/neai/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Dir returns the neai configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "neai"), nil
}

// Load reads the YAML file at path, if it exists, then NEAI_* environment
// variables. An empty path uses DefaultPath.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// NEAI_BACKEND_URL -> backend.url, NEAI_POLL_INTERVAL -> poll.interval.
	// Only the first underscore after the prefix separates section and field.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		parts := strings.SplitN(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", 2)
		if len(parts) == 1 {
			return parts[0]
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path) // #nosec G304 -- user-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize))
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	// applyDefaults only fails when the home directory is unknown; the
	// store path then stays relative.
	if err := applyDefaults(cfg); err != nil {
		cfg.Store.Path = "neai.db"
	}
	return cfg
}

func applyDefaults(cfg *Config) error {
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = "http://localhost:5000"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
	if cfg.Backend.RetryMaxTries == 0 {
		cfg.Backend.RetryMaxTries = 3
	}
	if cfg.Backend.RetryInitial == 0 {
		cfg.Backend.RetryInitial = 200 * time.Millisecond
	}
	if cfg.Backend.RetryMax == 0 {
		cfg.Backend.RetryMax = 2 * time.Second
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 3 * time.Second
	}
	if len(cfg.Upload.AllowedFileGlobs) == 0 {
		cfg.Upload.AllowedFileGlobs = append([]string(nil), guard.DefaultPolicy.AllowedFileGlobs...)
	}
	if cfg.Upload.MaxFileBytes == 0 {
		cfg.Upload.MaxFileBytes = guard.DefaultPolicy.MaxFileBytes
	}
	if cfg.Watch.Settle == 0 {
		cfg.Watch.Settle = 500 * time.Millisecond
	}
	if cfg.Web.Addr == "" {
		cfg.Web.Addr = "127.0.0.1:8088"
	}
	if cfg.Web.ShutdownTimeout == 0 {
		cfg.Web.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Store.Path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		cfg.Store.Path = filepath.Join(dir, "neai.db")
	}
	return nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("invalid backend url %q: %w", c.Backend.URL, err)
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend url must be http or https, got %q", u.Scheme)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend timeout must not be negative")
	}
	if c.Poll.Interval < 100*time.Millisecond {
		return fmt.Errorf("poll interval must be at least 100ms, got %s", c.Poll.Interval)
	}
	if err := c.Upload.Validate(); err != nil {
		return err
	}
	if c.Web.Addr == "" {
		return fmt.Errorf("web addr is required")
	}
	return nil
}
