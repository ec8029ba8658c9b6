package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"refsession/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/refsession"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "REFSESSION_"
)

var (
	osUserHomeDir = os.UserHomeDir
	lookupEnv     = os.LookupEnv

	// dotEnvPath is read before the environment. A missing file is ignored.
	dotEnvPath = ".env"
)

// DefaultConfigPath returns ~/.config/refsession/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadConfig builds the configuration from defaults, the YAML file at
// configPath (DefaultConfigPath when empty), the .env file and REFSESSION_*
// environment variables, in that order. The result is validated.
func LoadConfig(configPath string) (Config, error) {
	config := GetDefaultConfig()

	if configPath == "" {
		var err error
		configPath, err = DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configPath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configPath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configPath)
	}

	dotEnv, err := readDotEnv(dotEnvPath)
	if err != nil {
		return Config{}, err
	}

	if err := ApplyEnv(&config, envLookup(dotEnv)); err != nil {
		return Config{}, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func readDotEnv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	logging.Debug("ConfigLoader", "Loaded %d values from %s", len(values), path)
	return values, nil
}

// envLookup prefers the process environment over .env values.
func envLookup(dotEnv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotEnv[key]
		return v, ok
	}
}

type envBinding struct {
	name  string
	apply func(c *Config, value string) error
}

var envBindings = []envBinding{
	{"BASE_URL", func(c *Config, v string) error { c.API.BaseURL = v; return nil }},
	{"API_TIMEOUT", durationSetter(func(c *Config) *time.Duration { return &c.API.Timeout })},
	{"STORAGE_BACKEND", func(c *Config, v string) error { c.Storage.Backend = v; return nil }},
	{"STORAGE_DIR", func(c *Config, v string) error { c.Storage.Dir = v; return nil }},
	{"STORAGE_WATCH", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Storage.Watch = b
		return nil
	}},
	{"BOLT_PATH", func(c *Config, v string) error { c.Storage.BoltPath = v; return nil }},
	{"REDIS_ADDR", func(c *Config, v string) error { c.Storage.Redis.Addr = v; return nil }},
	{"REDIS_PASSWORD", func(c *Config, v string) error { c.Storage.Redis.Password = v; return nil }},
	{"REDIS_DB", func(c *Config, v string) error {
		db, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Storage.Redis.DB = db
		return nil
	}},
	{"REDIS_PREFIX", func(c *Config, v string) error { c.Storage.Redis.Prefix = v; return nil }},
	{"SCHEDULER_MODE", func(c *Config, v string) error { c.Scheduler.Mode = v; return nil }},
	{"SCHEDULER_INTERVAL", durationSetter(func(c *Config) *time.Duration { return &c.Scheduler.Interval })},
	{"SCHEDULER_THRESHOLD", durationSetter(func(c *Config) *time.Duration { return &c.Scheduler.Threshold })},
	{"TOKEN_EXPECTED_LIFETIME", durationSetter(func(c *Config) *time.Duration { return &c.Token.ExpectedLifetime })},
	{"GUARD_REDIRECT_DELAY", durationSetter(func(c *Config) *time.Duration { return &c.Guard.RedirectDelay })},
	{"LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
}

func durationSetter(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// ApplyEnv overrides config with REFSESSION_* values found through lookup.
func ApplyEnv(config *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		key := EnvPrefix + b.name
		value, ok := lookup(key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := b.apply(config, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		logging.Debug("ConfigLoader", "Applied override from %s", key)
	}
	return nil
}
