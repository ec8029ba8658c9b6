package config

import "time"

const (
	// DefaultBaseURL is where a locally running portal serves its API.
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultAPITimeout bounds each auth request, including refresh.
	DefaultAPITimeout = 30 * time.Second

	DefaultBackend = "file"

	DefaultRedisPrefix = "refsession"

	DefaultSchedulerMode      = "poll"
	DefaultSchedulerInterval  = 4 * time.Minute
	DefaultSchedulerThreshold = 300 * time.Second
	DefaultSchedulerMinDelay  = 5 * time.Second

	DefaultExpectedLifetime = 24 * time.Hour
	DefaultSkewTolerance    = 5 * time.Minute

	DefaultLogLevel = "info"
)

// GetDefaultConfig returns the configuration used when no file is present.
// Storage paths are left empty; the stores fill in their own defaults.
func GetDefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultAPITimeout,
		},
		Storage: StorageConfig{
			Backend: DefaultBackend,
			Watch:   true,
			Redis: RedisConfig{
				Prefix: DefaultRedisPrefix,
			},
		},
		Scheduler: SchedulerConfig{
			Mode:      DefaultSchedulerMode,
			Interval:  DefaultSchedulerInterval,
			Threshold: DefaultSchedulerThreshold,
			MinDelay:  DefaultSchedulerMinDelay,
		},
		Token: TokenConfig{
			ExpectedLifetime: DefaultExpectedLifetime,
			SkewTolerance:    DefaultSkewTolerance,
		},
		LogLevel: DefaultLogLevel,
	}
}
