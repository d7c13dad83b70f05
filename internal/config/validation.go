package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/willibrandon/calltrace/internal/logging"
	"github.com/willibrandon/calltrace/pkg/trace"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version < 1 || c.Version > Version {
		add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		add("log.format", "%v", err)
	}

	if _, err := trace.ParseFormat(c.Trace.Format); err != nil {
		add("trace.format", "%v", err)
	}
	if _, err := trace.ParseCompression(c.Trace.Compression); err != nil {
		add("trace.compression", "%v", err)
	}

	if (c.Security.Encrypt || c.Security.Integrity) && c.Security.Passphrase == "" {
		add("security.passphrase", "required when encryption or integrity checks are enabled")
	}
	if c.Security.Redact && len(c.Security.RedactPatterns) == 0 {
		add("security.redact_patterns", "at least one pattern is required when redaction is enabled")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			add("telemetry.endpoint", "required when telemetry is enabled")
		} else if u, err := url.Parse(c.Telemetry.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			add("telemetry.endpoint", "invalid URL %q", c.Telemetry.Endpoint)
		}
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		add("store.path", "must not be empty")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
