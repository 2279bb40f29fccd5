package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete daemon configuration
type Configuration struct {
	Global GlobalConfig `yaml:"global"`
	Trace  TraceConfig  `yaml:"trace"`
	Hook   HookConfig   `yaml:"hook"`
	Hint   HintConfig   `yaml:"hint"`
	Export ExportConfig `yaml:"export"`
}

// GlobalConfig represents global daemon settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogFile     string `yaml:"log_file"`
	APIPort     int    `yaml:"api_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// TraceConfig governs the recording engine
type TraceConfig struct {
	// BufferCapacity is the per-target record capacity used when a setup
	// request does not carry its own.
	BufferCapacity int `yaml:"buffer_capacity"`

	// MaxRecords caps total records across all targets; setup beyond it
	// fails up front. Zero means unlimited.
	MaxRecords int `yaml:"max_records"`

	// MeminfoInterval is the file-cache sampling period. Zero disables
	// background sampling.
	MeminfoInterval time.Duration `yaml:"meminfo_interval"`
}

// HookConfig governs the read-observation mount
type HookConfig struct {
	Enabled bool `yaml:"enabled"`

	// Source is the directory whose reads are observed; Mountpoint is
	// where the observing filesystem is mounted.
	Source     string `yaml:"source"`
	Mountpoint string `yaml:"mountpoint"`

	// AllowOther passes allow_other to the mount so observed processes
	// other than the daemon's user can read through it.
	AllowOther bool `yaml:"allow_other"`
}

// HintConfig seeds the launch-hint flags at startup
type HintConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"`
	MinFileCacheKB uint64 `yaml:"min_file_cache_kb"`
}

// ExportConfig governs footprint upload
type ExportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			APIPort:     8080,
			MetricsPort: 9090,
		},
		Trace: TraceConfig{
			BufferCapacity:  4096,
			MaxRecords:      262144,
			MeminfoInterval: 30 * time.Second,
		},
		Hook: HookConfig{
			Enabled:    false,
			Source:     "",
			Mountpoint: "",
			AllowOther: false,
		},
		Hint: HintConfig{
			Enabled:        false,
			Mode:           "none",
			MinFileCacheKB: 0,
		},
		Export: ExportConfig{
			Enabled: false,
			Prefix:  "footprints",
			Region:  "us-east-1",
			Timeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("PAGETRACE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("PAGETRACE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("PAGETRACE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("PAGETRACE_API_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.APIPort = port
		}
	}
	if val := os.Getenv("PAGETRACE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	// Trace settings
	if val := os.Getenv("PAGETRACE_BUFFER_CAPACITY"); val != "" {
		if capacity, err := strconv.Atoi(val); err == nil {
			c.Trace.BufferCapacity = capacity
		}
	}
	if val := os.Getenv("PAGETRACE_MAX_RECORDS"); val != "" {
		if max, err := strconv.Atoi(val); err == nil {
			c.Trace.MaxRecords = max
		}
	}

	// Hook settings
	if val := os.Getenv("PAGETRACE_HOOK_ENABLED"); val != "" {
		c.Hook.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PAGETRACE_HOOK_SOURCE"); val != "" {
		c.Hook.Source = val
	}
	if val := os.Getenv("PAGETRACE_HOOK_MOUNTPOINT"); val != "" {
		c.Hook.Mountpoint = val
	}

	// Hint settings
	if val := os.Getenv("PAGETRACE_HINT_ENABLED"); val != "" {
		c.Hint.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PAGETRACE_HINT_MODE"); val != "" {
		c.Hint.Mode = val
	}
	if val := os.Getenv("PAGETRACE_MIN_FILE_CACHE_KB"); val != "" {
		if kb, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.Hint.MinFileCacheKB = kb
		}
	}

	// Export settings
	if val := os.Getenv("PAGETRACE_EXPORT_ENABLED"); val != "" {
		c.Export.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PAGETRACE_EXPORT_BUCKET"); val != "" {
		c.Export.Bucket = val
	}
	if val := os.Getenv("PAGETRACE_EXPORT_PREFIX"); val != "" {
		c.Export.Prefix = val
	}
	if val := os.Getenv("PAGETRACE_EXPORT_REGION"); val != "" {
		c.Export.Region = val
	}
	if val := os.Getenv("PAGETRACE_EXPORT_ENDPOINT"); val != "" {
		c.Export.Endpoint = val
	}
	if val := os.Getenv("AWS_ACCESS_KEY_ID"); val != "" && c.Export.AccessKey == "" {
		c.Export.AccessKey = val
	}
	if val := os.Getenv("AWS_SECRET_ACCESS_KEY"); val != "" && c.Export.SecretKey == "" {
		c.Export.SecretKey = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Trace.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be greater than 0")
	}

	if c.Trace.MaxRecords < 0 {
		return fmt.Errorf("max_records cannot be negative")
	}

	if c.Trace.MaxRecords > 0 && c.Trace.BufferCapacity > c.Trace.MaxRecords {
		return fmt.Errorf("buffer_capacity %d exceeds max_records %d",
			c.Trace.BufferCapacity, c.Trace.MaxRecords)
	}

	if c.Global.MetricsPort == c.Global.APIPort {
		return fmt.Errorf("api_port and metrics_port cannot be the same")
	}

	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Hint.Mode {
	case "none", "app-launch", "camera-launch":
	default:
		return fmt.Errorf("invalid hint mode: %s", c.Hint.Mode)
	}

	if c.Hook.Enabled {
		if c.Hook.Source == "" || c.Hook.Mountpoint == "" {
			return fmt.Errorf("hook requires both source and mountpoint")
		}
		if c.Hook.Source == c.Hook.Mountpoint {
			return fmt.Errorf("hook source and mountpoint cannot be the same")
		}
	}

	if c.Export.Enabled {
		if c.Export.Bucket == "" {
			return fmt.Errorf("export requires a bucket")
		}
		if c.Export.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("export retry max_attempts must be greater than 0")
		}
	}

	return nil
}
