package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/willibrandon/calltrace/pkg/codec"
)

// Format selects the trace encoding
type Format int

const (
	// JSON is the human-readable wire form
	JSON Format = iota
	// CBOR is the compact binary form
	CBOR
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case CBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// ParseFormat parses "json" or "cbor"
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return 0, fmt.Errorf("trace: unknown format %q", s)
}

// Options controls how a trace is persisted
type Options struct {
	Format      Format
	Compression CompressionType
	// Indent pretty-prints JSON output
	Indent bool
}

// DefaultOptions returns uncompressed JSON
func DefaultOptions() Options {
	return Options{Format: JSON, Compression: NoCompression}
}

// Marshal validates and encodes a trace
func Marshal(t *Trace, opts Options) ([]byte, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}
	var (
		data []byte
		err  error
	)
	switch opts.Format {
	case JSON:
		if opts.Indent {
			data, err = json.MarshalIndent(t, "", "  ")
		} else {
			data, err = json.Marshal(t)
		}
	case CBOR:
		data, err = codec.CBOREncMode().Marshal(t)
	default:
		return nil, fmt.Errorf("trace: unknown format %d", opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("trace: encode %s: %w", opts.Format, err)
	}
	return CompressData(data, opts.Compression)
}

// Unmarshal decodes a trace written by Marshal. Compression and format are
// detected from the content.
func Unmarshal(data []byte) (*Trace, error) {
	if IsZstd(data) {
		raw, err := DecompressData(data, ZstdCompression)
		if err != nil {
			return nil, fmt.Errorf("trace: decompress: %w", err)
		}
		data = raw
	}

	t := &Trace{}
	if looksLikeJSON(data) {
		if err := ValidateJSON(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("trace: decode json: %w", err)
		}
	} else {
		if err := codec.CBORDecMode().Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("trace: decode cbor: %w", err)
		}
	}
	if t.Calls == nil {
		t.Calls = make(map[string]MethodTrace)
	}
	if t.Callbacks == nil {
		t.Callbacks = make(map[string]MethodTrace)
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Save writes a trace to w
func Save(w io.Writer, t *Trace, opts Options) error {
	data, err := Marshal(t, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Load reads a trace from r
func Load(r io.Reader) (*Trace, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("trace: read: %w", err)
	}
	return Unmarshal(data)
}

// SaveFile writes a trace to path
func SaveFile(path string, t *Trace, opts Options) error {
	data, err := Marshal(t, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFile reads a trace from path
func LoadFile(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
