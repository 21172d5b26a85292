package types

import (
	"errors"
	"strings"
)

// Config holds the resolved settings for a tokenplan process.
type Config struct {
	DataDir       string `json:"data_dir" yaml:"data_dir"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	PageSize      int    `json:"page_size" yaml:"page_size"`
	ReportCacheMB int64  `json:"report_cache_mb" yaml:"report_cache_mb"`
}

// Defaults applied when a config value is unset.
const (
	DefaultPageSize      = 20
	DefaultReportCacheMB = 16
	DefaultLogLevel      = "info"
)

// Config validation errors.
var (
	ErrDataDirEmpty     = errors.New("data directory must not be empty")
	ErrLogLevelUnknown  = errors.New("unknown log level")
	ErrPageSizeInvalid  = errors.New("page size must be positive")
	ErrCacheSizeInvalid = errors.New("report cache size must not be negative")
)

var knownLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ReportCacheMB == 0 {
		c.ReportCacheMB = DefaultReportCacheMB
	}
	return c
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return ErrDataDirEmpty
	}
	if c.LogLevel != "" && !knownLogLevels[strings.ToLower(c.LogLevel)] {
		return ErrLogLevelUnknown
	}
	if c.PageSize < 0 {
		return ErrPageSizeInvalid
	}
	if c.ReportCacheMB < 0 {
		return ErrCacheSizeInvalid
	}
	return nil
}
