package config

import "time"

// Config is the top-level configuration structure for refsession.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Token     TokenConfig     `yaml:"token"`
	Guard     GuardConfig     `yaml:"guard"`
	LogLevel  string          `yaml:"logLevel,omitempty"` // debug, info, warn or error (default: info)
}

// APIConfig points at the portal's auth endpoints.
type APIConfig struct {
	BaseURL string        `yaml:"baseURL,omitempty"` // Base URL the /auth/* paths are joined to
	Timeout time.Duration `yaml:"timeout,omitempty"` // Per-request timeout (default: 30s)
}

// StorageConfig selects the credential backend.
type StorageConfig struct {
	Backend  string      `yaml:"backend,omitempty"`  // file, bolt, redis or memory (default: file)
	Dir      string      `yaml:"dir,omitempty"`      // Directory of the file backend
	BoltPath string      `yaml:"boltPath,omitempty"` // Database path of the bolt backend
	Watch    bool        `yaml:"watch"`              // Report changes made by other processes (default: true)
	Redis    RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"` // Key prefix (default: refsession)
}

// SchedulerConfig controls proactive refresh.
type SchedulerConfig struct {
	Mode      string        `yaml:"mode,omitempty"`      // poll or precise (default: poll)
	Interval  time.Duration `yaml:"interval,omitempty"`  // Poll interval (default: 4m)
	Threshold time.Duration `yaml:"threshold,omitempty"` // Refresh when less than this remains (default: 5m)
	MinDelay  time.Duration `yaml:"minDelay,omitempty"`  // Shortest precise-mode timer (default: 5s)
}

// TokenConfig tunes the structural checks applied to access tokens.
type TokenConfig struct {
	ExpectedLifetime  time.Duration `yaml:"expectedLifetime,omitempty"`  // Issuance window (default: 24h)
	SkewTolerance     time.Duration `yaml:"skewTolerance,omitempty"`     // Allowed future iat (default: 5m)
	AllowedAlgorithms []string      `yaml:"allowedAlgorithms,omitempty"` // Signing algorithms considered normal
}

// GuardConfig controls what happens when a session ends.
type GuardConfig struct {
	RedirectDelay  time.Duration `yaml:"redirectDelay,omitempty"`  // Pause between notice and login redirect
	NoticeTemplate string        `yaml:"noticeTemplate,omitempty"` // Overrides the RefreshFailed notice
}
