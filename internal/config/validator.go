package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "resolver.min_batch")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// metricNameRegex matches a valid Prometheus namespace
var metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateWatcher()...)
	errors = append(errors, c.validateResolver()...)
	errors = append(errors, c.validateDownload()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)

	return errors
}

// validateWatcher validates the WatcherConfig
func (c *Config) validateWatcher() []ValidationError {
	var errors []ValidationError

	const minFlushInterval = 10     // 10ms minimum
	const maxFlushInterval = 60_000 // 1 minute maximum

	if c.Watcher.FlushIntervalMs < minFlushInterval {
		errors = append(errors, ValidationError{
			Field:   "watcher.flush_interval_ms",
			Value:   c.Watcher.FlushIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minFlushInterval),
		})
	}
	if c.Watcher.FlushIntervalMs > maxFlushInterval {
		errors = append(errors, ValidationError{
			Field:   "watcher.flush_interval_ms",
			Value:   c.Watcher.FlushIntervalMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxFlushInterval),
		})
	}

	return errors
}

// validateResolver validates the ResolverConfig
func (c *Config) validateResolver() []ValidationError {
	var errors []ValidationError
	r := c.Resolver

	if r.MinBatch < 1 {
		errors = append(errors, ValidationError{
			Field:   "resolver.min_batch",
			Value:   r.MinBatch,
			Message: "must be at least 1",
		})
	}
	if r.InitialBatch < r.MinBatch {
		errors = append(errors, ValidationError{
			Field:   "resolver.initial_batch",
			Value:   r.InitialBatch,
			Message: fmt.Sprintf("must not be below min_batch (%d)", r.MinBatch),
		})
	}
	if r.MaxBatch < r.InitialBatch {
		errors = append(errors, ValidationError{
			Field:   "resolver.max_batch",
			Value:   r.MaxBatch,
			Message: fmt.Sprintf("must not be below initial_batch (%d)", r.InitialBatch),
		})
	}

	const maxBatchLimit = 256
	if r.MaxBatch > maxBatchLimit {
		errors = append(errors, ValidationError{
			Field:   "resolver.max_batch",
			Value:   r.MaxBatch,
			Message: fmt.Sprintf("exceeds maximum of %d", maxBatchLimit),
		})
	}

	if r.MaxAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "resolver.max_attempts",
			Value:   r.MaxAttempts,
			Message: "must be non-negative (0 = unlimited)",
		})
	}
	if r.CacheSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "resolver.cache_size",
			Value:   r.CacheSize,
			Message: "must be non-negative",
		})
	}
	if r.RequestsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "resolver.requests_per_second",
			Value:   r.RequestsPerSecond,
			Message: "must be non-negative (0 = unlimited)",
		})
	}
	if r.RequestsPerSecond > 0 && r.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "resolver.burst",
			Value:   r.Burst,
			Message: "must be at least 1 when requests_per_second is set",
		})
	}

	return errors
}

// validateDownload validates the DownloadConfig
func (c *Config) validateDownload() []ValidationError {
	var errors []ValidationError
	d := c.Download

	if d.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "download.timeout_seconds",
			Value:   d.TimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}

	const maxRetries = 10
	if d.RetryMax < 0 || d.RetryMax > maxRetries {
		errors = append(errors, ValidationError{
			Field:   "download.retry_max",
			Value:   d.RetryMax,
			Message: fmt.Sprintf("must be between 0 and %d", maxRetries),
		})
	}

	if d.CurseforgeBaseURL != "" {
		u, err := url.Parse(d.CurseforgeBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "download.curseforge_base_url",
				Value:   d.CurseforgeBaseURL,
				Message: "must be an absolute http or https URL",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	var errors []ValidationError

	if c.Metrics.Namespace != "" && !metricNameRegex.MatchString(c.Metrics.Namespace) {
		errors = append(errors, ValidationError{
			Field:   "metrics.namespace",
			Value:   c.Metrics.Namespace,
			Message: "must start with a letter or underscore and contain only letters, digits and underscores",
		})
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errors = append(errors, ValidationError{
			Field:   "metrics.address",
			Value:   c.Metrics.Address,
			Message: "must be set when metrics are enabled",
		})
	}

	return errors
}
