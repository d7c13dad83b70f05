package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/willibrandon/calltrace/internal/logging"
	"github.com/willibrandon/calltrace/pkg/trace"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if !cfg.Instrument.Enabled {
		t.Error("expected instrumentation enabled by default")
	}
	if cfg.Secure() {
		t.Error("expected no security features by default")
	}
	if opts := cfg.TraceOptions(); opts.Format != trace.JSON || opts.Compression != trace.NoCompression {
		t.Errorf("unexpected trace options: %+v", opts)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Path != "calltrace.db" {
		t.Errorf("expected default store path, got %s", cfg.Store.Path)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "calltrace.toml", `
version = 1

[log]
level = "debug"
format = "json"

[trace]
format = "cbor"
compression = "zstd"

[instrument]
enabled = true
include = ["Scene", "Mesh.set*"]
exclude = ["Scene.onFrame"]

[replay]
halt_on_divergence = true
breakpoints = ["step:4", "type:Light"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	lc := cfg.Logging("replay")
	if lc.Level != logging.LevelDebug || lc.Format != logging.FormatJSON || lc.Component != "replay" {
		t.Errorf("unexpected logging config: %+v", lc)
	}
	if opts := cfg.TraceOptions(); opts.Format != trace.CBOR || opts.Compression != trace.ZstdCompression {
		t.Errorf("unexpected trace options: %+v", opts)
	}

	io := cfg.InstrumentOptions()
	if !io.ShouldInstrument("Mesh", "setPosition") {
		t.Error("expected Mesh.setPosition to be instrumented")
	}
	if io.ShouldInstrument("Scene", "onFrame") {
		t.Error("expected Scene.onFrame to be excluded")
	}
	if io.ShouldInstrument("Light", "setColor") {
		t.Error("expected Light to be skipped")
	}

	ropts, bm, err := cfg.ReplayOptions()
	if err != nil {
		t.Fatalf("ReplayOptions failed: %v", err)
	}
	if len(ropts) != 2 {
		t.Errorf("expected 2 replay options, got %d", len(ropts))
	}
	if bps := bm.GetBreakpoints(); len(bps) != 2 || bps[1].Location() != "type:Light" {
		t.Errorf("unexpected breakpoints: %+v", bps)
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	yamlPath := writeFile(t, "calltrace.yaml", `
version: 1
store:
  path: /tmp/traces.db
security:
  redact: true
  redact_patterns: [apikey]
`)
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load YAML failed: %v", err)
	}
	if cfg.Store.Path != "/tmp/traces.db" {
		t.Errorf("expected store path from YAML, got %s", cfg.Store.Path)
	}
	opts, err := cfg.SecurityOptions()
	if err != nil {
		t.Fatalf("SecurityOptions failed: %v", err)
	}
	if !opts.EnableRedaction || len(opts.RedactionPatterns) != 1 || opts.RedactionPatterns[0] != "apikey" {
		t.Errorf("unexpected redaction options: %+v", opts)
	}
	if opts.EnableEncryption || opts.EnableIntegrityCheck {
		t.Error("expected encryption and integrity to stay off")
	}

	jsonPath := writeFile(t, "calltrace.json", `{"version": 1, "trace": {"indent": true}}`)
	cfg, err = Load(jsonPath)
	if err != nil {
		t.Fatalf("Load JSON failed: %v", err)
	}
	if !cfg.Trace.Indent {
		t.Error("expected indent from JSON")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "calltrace.ini", "version=1")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "calltrace.toml", `
[log]
level = "info"
`)
	t.Setenv("CALLTRACE_LOG_LEVEL", "warn")
	t.Setenv("CALLTRACE_SECURITY_ENCRYPT", "true")
	t.Setenv("CALLTRACE_SECURITY_INTEGRITY", "true")
	t.Setenv("CALLTRACE_SECURITY_PASSPHRASE", "correct horse")
	t.Setenv("CALLTRACE_INSTRUMENT_EXCLUDE", "Scene.onFrame,Mesh...")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected env level warn, got %s", cfg.Log.Level)
	}
	if len(cfg.Instrument.Exclude) != 2 {
		t.Errorf("expected 2 excludes, got %v", cfg.Instrument.Exclude)
	}

	opts, err := cfg.SecurityOptions()
	if err != nil {
		t.Fatalf("SecurityOptions failed: %v", err)
	}
	if !opts.EnableEncryption || len(opts.EncryptionKey) != 32 {
		t.Errorf("expected 32-byte encryption key, got %d bytes", len(opts.EncryptionKey))
	}
	if !opts.EnableIntegrityCheck || len(opts.IntegrityKey) != 32 {
		t.Errorf("expected 32-byte integrity key, got %d bytes", len(opts.IntegrityKey))
	}
	if !cfg.Secure() {
		t.Error("expected secure journal")
	}
}

func TestValidationCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 7
	cfg.Log.Level = "loud"
	cfg.Trace.Compression = "gzip"
	cfg.Security.Encrypt = true
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "not a url"
	cfg.Store.Path = " "

	err := cfg.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, f := range []string{"version", "log.level", "trace.compression", "security.passphrase", "telemetry.endpoint", "store.path"} {
		if !fields[f] {
			t.Errorf("expected error for %s in %v", f, err)
		}
	}
	if !strings.Contains(err.Error(), "config: version") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestInvalidBreakpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Replay.Breakpoints = []string{"step:x"}
	if _, _, err := cfg.ReplayOptions(); err == nil {
		t.Fatal("expected breakpoint error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")
	cfg := DefaultConfig()
	cfg.Trace.Format = "cbor"
	cfg.Replay.Breakpoints = []string{"type:Mesh"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Trace.Format != "cbor" || len(loaded.Replay.Breakpoints) != 1 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}
