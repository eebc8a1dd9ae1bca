package shelf

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration defaults for engine operations
const (
	DefaultSchemaVersion             = 1
	DefaultCompressionThresholdBytes = 1024
	DefaultCompressionAlgorithm      = "gzip"
	DefaultHighWaterMark             = 0.9
	DefaultMaxRetries                = 3
	DefaultRetryDelay                = 1000 * time.Millisecond
	DefaultDataDir                   = "data"

	// File permissions for databases and backup files
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)

// Config describes one database: its name, declared stores and the storage
// policies applied to it. Zero values for SchemaVersion, DataDir,
// CompressionEnabled, CompressionThresholdBytes, CompressionAlgorithm and
// HighWaterMark are
// replaced with defaults by New. MaxRetries and RetryDelayMs are taken as-is,
// so start from DefaultConfig when the defaults are wanted.
type Config struct {
	DBName        string        `yaml:"dbName" json:"dbName"`
	SchemaVersion int           `yaml:"schemaVersion" json:"schemaVersion"`
	Stores        []StoreSchema `yaml:"stores" json:"stores"`

	// DataDir holds the database file of the default substrate.
	DataDir string `yaml:"dataDir" json:"dataDir"`

	CompressionEnabled        *bool  `yaml:"compressionEnabled" json:"compressionEnabled"`
	CompressionThresholdBytes int    `yaml:"compressionThresholdBytes" json:"compressionThresholdBytes"`
	CompressionAlgorithm      string `yaml:"compressionAlgorithm" json:"compressionAlgorithm"`

	// MaxQuotaBytes bounds the database size; 0 means unbounded.
	MaxQuotaBytes int64   `yaml:"maxQuotaBytes" json:"maxQuotaBytes"`
	HighWaterMark float64 `yaml:"highWaterMark" json:"highWaterMark"`

	// CleanupIntervalMs drives the background sweep; 0 disables the timer.
	CleanupIntervalMs int `yaml:"cleanupIntervalMs" json:"cleanupIntervalMs"`

	MaxRetries   int `yaml:"maxRetries" json:"maxRetries"`
	RetryDelayMs int `yaml:"retryDelayMs" json:"retryDelayMs"`
}

// DefaultConfig returns a configuration for dbName with every default applied.
func DefaultConfig(dbName string) Config {
	enabled := true
	return Config{
		DBName:                    dbName,
		SchemaVersion:             DefaultSchemaVersion,
		DataDir:                   DefaultDataDir,
		CompressionEnabled:        &enabled,
		CompressionThresholdBytes: DefaultCompressionThresholdBytes,
		CompressionAlgorithm:      DefaultCompressionAlgorithm,
		HighWaterMark:             DefaultHighWaterMark,
		MaxRetries:                DefaultMaxRetries,
		RetryDelayMs:              int(DefaultRetryDelay / time.Millisecond),
	}
}

func (c Config) withDefaults() Config {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = DefaultSchemaVersion
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.CompressionEnabled == nil {
		enabled := true
		c.CompressionEnabled = &enabled
	}
	if c.CompressionThresholdBytes == 0 {
		c.CompressionThresholdBytes = DefaultCompressionThresholdBytes
	}
	if c.CompressionAlgorithm == "" {
		c.CompressionAlgorithm = DefaultCompressionAlgorithm
	}
	if c.HighWaterMark == 0 {
		c.HighWaterMark = DefaultHighWaterMark
	}
	return c
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.DBName == "" {
		return invalidConfig("dbName", c.DBName, "must not be empty")
	}
	if c.SchemaVersion < 1 {
		return invalidConfig("schemaVersion", c.SchemaVersion, "must be >= 1")
	}
	if c.CompressionThresholdBytes < 0 {
		return invalidConfig("compressionThresholdBytes", c.CompressionThresholdBytes, "must be non-negative")
	}
	if c.CompressionAlgorithm != "" && !knownAlgorithm(c.CompressionAlgorithm) {
		return invalidConfig("compressionAlgorithm", c.CompressionAlgorithm, "unknown algorithm")
	}
	if c.MaxQuotaBytes < 0 {
		return invalidConfig("maxQuotaBytes", c.MaxQuotaBytes, "must be non-negative")
	}
	if c.HighWaterMark < 0 || c.HighWaterMark > 1 {
		return invalidConfig("highWaterMark", c.HighWaterMark, "must be between 0 and 1")
	}
	if c.CleanupIntervalMs < 0 {
		return invalidConfig("cleanupIntervalMs", c.CleanupIntervalMs, "must be non-negative")
	}
	if c.MaxRetries < 0 {
		return invalidConfig("maxRetries", c.MaxRetries, "must be non-negative")
	}
	if c.RetryDelayMs < 0 {
		return invalidConfig("retryDelayMs", c.RetryDelayMs, "must be non-negative")
	}
	return nil
}

func invalidConfig(field string, value interface{}, reason string) error {
	return WithContext(ErrInvalidConfig, map[string]interface{}{
		"field":  field,
		"value":  value,
		"reason": reason,
	})
}

// Compression reports whether size-gated compression is enabled.
func (c Config) Compression() bool {
	return c.CompressionEnabled == nil || *c.CompressionEnabled
}

// RetryDelay is the base delay between connection attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// CleanupInterval is the period of the background sweep, 0 when disabled.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// Backoff returns the delay before retry number attempt (1-based). The delay
// grows linearly: attempt * RetryDelay.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * c.RetryDelay()
}

// LoadConfig reads a YAML configuration file. Keys the Config does not know
// are rejected so typos surface instead of silently falling back to defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML document on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig("")

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, WithContext(fmt.Errorf("%w: %w", ErrInvalidConfig, err), map[string]interface{}{
			"reason": "failed to parse YAML",
		})
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
