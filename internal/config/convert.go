package config

import (
	"fmt"

	"github.com/willibrandon/calltrace/internal/logging"
	"github.com/willibrandon/calltrace/pkg/instrumentation"
	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/replay"
	"github.com/willibrandon/calltrace/pkg/trace"
)

// Logging returns the logger configuration for component.
func (c *Config) Logging(component string) *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level, _ = logging.ParseLevel(c.Log.Level)
	lc.Format, _ = logging.ParseFormat(c.Log.Format)
	lc.Output = c.Log.Output
	lc.AddSource = c.Log.AddSource
	if component != "" {
		lc.Component = component
	}
	return lc
}

// TraceOptions returns the persistence options for whole traces.
func (c *Config) TraceOptions() trace.Options {
	format, _ := trace.ParseFormat(c.Trace.Format)
	comp, _ := trace.ParseCompression(c.Trace.Compression)
	return trace.Options{Format: format, Compression: comp, Indent: c.Trace.Indent}
}

// SecurityOptions derives journal security options. Keys come from the
// passphrase; encryption and integrity are enabled independently.
func (c *Config) SecurityOptions() (recorder.SecurityOptions, error) {
	s := c.Security
	opts := recorder.DefaultSecurityOptions()
	if s.Redact {
		recorder.WithRedaction(s.RedactPatterns, s.RedactReplacement)(&opts)
	}
	if !s.Encrypt && !s.Integrity {
		return opts, nil
	}

	enc, mac, err := recorder.DeriveKeys([]byte(s.Passphrase), []byte(s.Salt))
	if err != nil {
		return opts, fmt.Errorf("derive keys: %w", err)
	}
	if s.Encrypt {
		recorder.WithEncryption(enc)(&opts)
	}
	if s.Integrity {
		recorder.WithIntegrityCheck(mac)(&opts)
	}
	return opts, nil
}

// Secure reports whether journals need the secure sink.
func (c *Config) Secure() bool {
	return c.Security.Encrypt || c.Security.Integrity || c.Security.Redact
}

// InstrumentOptions returns the interceptor's selection options.
func (c *Config) InstrumentOptions() instrumentation.Options {
	return instrumentation.Options{
		Enabled:      c.Instrument.Enabled,
		IncludeTypes: c.Instrument.Include,
		ExcludeTypes: c.Instrument.Exclude,
	}
}

// ReplayOptions returns the replay session options and the breakpoint
// manager holding the configured breakpoints.
func (c *Config) ReplayOptions() ([]replay.Option, *replay.BreakpointManager, error) {
	bm := replay.NewBreakpointManager()
	for _, loc := range c.Replay.Breakpoints {
		if _, err := bm.AddBreakpoint(loc); err != nil {
			return nil, nil, fmt.Errorf("breakpoint %q: %w", loc, err)
		}
	}
	opts := []replay.Option{
		replay.WithHaltOnDivergence(c.Replay.HaltOnDivergence),
		replay.WithBreakpoints(bm),
	}
	return opts, bm, nil
}
