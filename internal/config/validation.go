package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var productPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidProducts []string
	Problems        []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidProducts) > 0 || len(e.Problems) > 0
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidProducts) > 0 {
		sb.WriteString("\nInvalid product types:\n")
		for _, p := range e.InvalidProducts {
			sb.WriteString(fmt.Sprintf("  - %q\n", p))
		}
		sb.WriteString("\nProduct types are letters, digits and underscores (e.g. VMI, SRI, TEMP)\n")
	}

	if len(e.Problems) > 0 {
		sb.WriteString("\nProblems:\n")
		for _, p := range e.Problems {
			sb.WriteString(fmt.Sprintf("  - %s\n", p))
		}
	}

	return sb.String()
}

// Validate reports every problem at once rather than stopping at the first.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Products) == 0 {
		errs.add("at least one product type is required")
	}
	for _, p := range c.Products {
		if !productPattern.MatchString(p) {
			errs.InvalidProducts = append(errs.InvalidProducts, p)
		}
	}

	validateURL(errs, "feed.url", c.Feed.URL, "ws", "wss")
	validateURL(errs, "api.endpoint", c.API.Endpoint, "http", "https")

	if !strings.HasPrefix(c.Feed.Topic, "/") {
		errs.add("feed.topic must start with '/', got %q", c.Feed.Topic)
	}
	if c.Feed.BackoffMinSec < 1 {
		errs.add("feed.backoff_min_sec must be >= 1")
	}
	if c.Feed.BackoffMaxSec < c.Feed.BackoffMinSec {
		errs.add("feed.backoff_max_sec (%d) must be >= feed.backoff_min_sec (%d)", c.Feed.BackoffMaxSec, c.Feed.BackoffMinSec)
	}
	if c.API.TimeoutSec < 1 {
		errs.add("api.timeout_sec must be >= 1")
	}
	if c.API.RetryCount < 0 {
		errs.add("api.retry_count must be >= 0")
	}
	if c.Output.Directory == "" {
		errs.add("output.directory is required")
	}
	if c.Download.Workers < 1 {
		errs.add("download.workers must be >= 1")
	}
	if c.Download.QueueSize < 1 {
		errs.add("download.queue_size must be >= 1")
	}
	if !ValidLogLevels[c.Logging.Level] {
		errs.add("invalid logging.level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	if err := c.Notify.Validate(); err != nil {
		errs.add("%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(errs *ValidationErrors, key, raw string, schemes ...string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		errs.add("%s is not a valid URL: %q", key, raw)
		return
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return
		}
	}
	errs.add("%s must use %s, got %q", key, strings.Join(schemes, " or "), u.Scheme)
}
