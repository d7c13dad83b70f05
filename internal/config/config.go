// Package config handles configuration loading and validation for calltrace.
package config

import (
	"github.com/willibrandon/calltrace/pkg/trace"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CALLTRACE_"

// Config is the complete calltrace configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	Log        LogConfig        `toml:"log" json:"log" yaml:"log" envPrefix:"LOG_"`
	Trace      TraceConfig      `toml:"trace" json:"trace" yaml:"trace" envPrefix:"TRACE_"`
	Security   SecurityConfig   `toml:"security" json:"security" yaml:"security" envPrefix:"SECURITY_"`
	Instrument InstrumentConfig `toml:"instrument" json:"instrument" yaml:"instrument" envPrefix:"INSTRUMENT_"`
	Replay     ReplayConfig     `toml:"replay" json:"replay" yaml:"replay" envPrefix:"REPLAY_"`
	Telemetry  TelemetryConfig  `toml:"telemetry" json:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Store      StoreConfig      `toml:"store" json:"store" yaml:"store" envPrefix:"STORE_"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level" env:"LEVEL"`
	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`
	// Output is stdout, stderr, discard or a file path.
	Output    string `toml:"output" json:"output" yaml:"output" env:"OUTPUT"`
	AddSource bool   `toml:"add_source" json:"add_source" yaml:"add_source" env:"ADD_SOURCE"`
}

// TraceConfig controls how traces and journals are written.
type TraceConfig struct {
	// Format is json or cbor.
	Format string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`
	// Compression is none or zstd.
	Compression string `toml:"compression" json:"compression" yaml:"compression" env:"COMPRESSION"`
	Indent      bool   `toml:"indent" json:"indent" yaml:"indent" env:"INDENT"`
	// Journal is the path of the append-only entry journal. Empty disables it.
	Journal string `toml:"journal" json:"journal" yaml:"journal" env:"JOURNAL"`
}

// SecurityConfig controls journal encryption, redaction and integrity.
type SecurityConfig struct {
	Encrypt   bool `toml:"encrypt" json:"encrypt" yaml:"encrypt" env:"ENCRYPT"`
	Integrity bool `toml:"integrity" json:"integrity" yaml:"integrity" env:"INTEGRITY"`
	Redact    bool `toml:"redact" json:"redact" yaml:"redact" env:"REDACT"`

	RedactPatterns    []string `toml:"redact_patterns" json:"redact_patterns" yaml:"redact_patterns" env:"REDACT_PATTERNS" envSeparator:","`
	RedactReplacement string   `toml:"redact_replacement" json:"redact_replacement" yaml:"redact_replacement" env:"REDACT_REPLACEMENT"`

	// Passphrase derives the encryption and integrity keys. It is normally
	// only supplied through the environment.
	Passphrase string `toml:"passphrase" json:"passphrase" yaml:"passphrase" env:"PASSPHRASE"`
	Salt       string `toml:"salt" json:"salt" yaml:"salt" env:"SALT"`
}

// InstrumentConfig selects which calls the interceptor records.
type InstrumentConfig struct {
	Enabled bool     `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	Include []string `toml:"include" json:"include" yaml:"include" env:"INCLUDE" envSeparator:","`
	Exclude []string `toml:"exclude" json:"exclude" yaml:"exclude" env:"EXCLUDE" envSeparator:","`
}

// ReplayConfig configures replay sessions.
type ReplayConfig struct {
	HaltOnDivergence bool     `toml:"halt_on_divergence" json:"halt_on_divergence" yaml:"halt_on_divergence" env:"HALT_ON_DIVERGENCE"`
	Breakpoints      []string `toml:"breakpoints" json:"breakpoints" yaml:"breakpoints" env:"BREAKPOINTS" envSeparator:","`
}

// TelemetryConfig configures OpenTelemetry export of replay spans.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	Endpoint    string `toml:"endpoint" json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `toml:"service_name" json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
}

// StoreConfig locates the trace database.
type StoreConfig struct {
	Path string `toml:"path" json:"path" yaml:"path" env:"PATH"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Trace: TraceConfig{
			Format:      trace.JSON.String(),
			Compression: trace.NoCompression.String(),
		},
		Security: SecurityConfig{
			RedactPatterns:    []string{"password", "token", "secret", "key", "credential"},
			RedactReplacement: "***REDACTED***",
		},
		Instrument: InstrumentConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "calltrace",
		},
		Store: StoreConfig{
			Path: "calltrace.db",
		},
	}
}
