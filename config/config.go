package config

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
)

const (
	DefaultTimeToLive         time.Duration = 10 * time.Minute
	DefaultCountLimit         int           = 100
	DefaultTimestampIndexSize int           = 4096
	DefaultLogLevel           string        = "info"
	DefaultLogFormat          string        = "text"
	DefaultAdminAddress       string        = ":8090"

	cacheDirName string = "recipecache"
)

var (
	// ErrNegativeValue is returned for negative durations and limits
	ErrNegativeValue = xerrors.New("negative value is not allowed")
	// ErrOutOfRange is returned for values that do not fit a duration
	ErrOutOfRange = xerrors.New("value is out of range")
)

// maxDurationSeconds is the largest number of seconds a time.Duration holds
const maxDurationSeconds float64 = math.MaxInt64 / float64(time.Second)

// Config holds startup settings of the cache.
// TimeToLive and CountLimit are initial values, the engine owns them afterwards.
type Config struct {
	RootPath           string
	TimeToLive         time.Duration
	CountLimit         int
	TimestampIndexSize int
	CrossProcessLock   bool

	LogLevel     string
	LogFormat    string // text or json
	AdminAddress string
}

// GetDefaultRootPath returns the default cache root under the user cache dir
func GetDefaultRootPath() string {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), cacheDirName)
	}
	return filepath.Join(userCacheDir, cacheDirName)
}

// NewDefaultConfig returns a Config filled with defaults
func NewDefaultConfig() *Config {
	return &Config{
		RootPath:           GetDefaultRootPath(),
		TimeToLive:         DefaultTimeToLive,
		CountLimit:         DefaultCountLimit,
		TimestampIndexSize: DefaultTimestampIndexSize,
		CrossProcessLock:   false,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
		AdminAddress:       DefaultAdminAddress,
	}
}

// LoadFromEnv returns defaults overridden by environment variables.
// A .env file in the working directory is loaded first if present.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	defaults := NewDefaultConfig()

	config := &Config{
		RootPath:           getEnv("RECIPECACHE_DIR", defaults.RootPath),
		TimeToLive:         getDurationEnv("RECIPECACHE_TTL", defaults.TimeToLive),
		CountLimit:         getIntEnv("RECIPECACHE_COUNT_LIMIT", defaults.CountLimit),
		TimestampIndexSize: getIntEnv("RECIPECACHE_INDEX_SIZE", defaults.TimestampIndexSize),
		CrossProcessLock:   getBoolEnv("RECIPECACHE_FILE_LOCK", defaults.CrossProcessLock),
		LogLevel:           getEnv("RECIPECACHE_LOG_LEVEL", defaults.LogLevel),
		LogFormat:          strings.ToLower(getEnv("RECIPECACHE_LOG_FORMAT", defaults.LogFormat)),
		AdminAddress:       getEnv("RECIPECACHE_ADMIN_ADDR", defaults.AdminAddress),
	}

	err := config.Validate()
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the config
func (config *Config) Validate() error {
	if len(config.RootPath) == 0 {
		return xerrors.Errorf("cache root path is not given")
	}

	err := ValidateTimeToLive(config.TimeToLive)
	if err != nil {
		return err
	}

	err = ValidateCountLimit(config.CountLimit)
	if err != nil {
		return err
	}

	if config.TimestampIndexSize < 0 {
		return xerrors.Errorf("invalid timestamp index size %d: %w", config.TimestampIndexSize, ErrNegativeValue)
	}

	switch config.LogFormat {
	case "text", "json":
	default:
		return xerrors.Errorf("unknown log format %q", config.LogFormat)
	}

	return nil
}

// ValidateTimeToLive checks a time-to-live value. Zero is valid and marks every entry stale.
func ValidateTimeToLive(ttl time.Duration) error {
	if ttl < 0 {
		return xerrors.Errorf("invalid time to live %v: %w", ttl, ErrNegativeValue)
	}
	return nil
}

// ValidateCountLimit checks a count limit value. Zero is valid and disables pruning.
func ValidateCountLimit(limit int) error {
	if limit < 0 {
		return xerrors.Errorf("invalid count limit %d: %w", limit, ErrNegativeValue)
	}
	return nil
}

// ValidateTimeToLiveSeconds checks a time-to-live given in fractional seconds
func ValidateTimeToLiveSeconds(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || math.Abs(seconds) >= maxDurationSeconds {
		return xerrors.Errorf("invalid time to live %v seconds: %w", seconds, ErrOutOfRange)
	}

	if seconds < 0 {
		return xerrors.Errorf("invalid time to live %v seconds: %w", seconds, ErrNegativeValue)
	}
	return nil
}

// SecondsToDuration converts fractional seconds to a duration.
// seconds must pass ValidateTimeToLiveSeconds.
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
