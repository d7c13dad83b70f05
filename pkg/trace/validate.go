package trace

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/willibrandon/calltrace/pkg/codec"
)

// ErrUnsupportedVersion classifies UnsupportedVersionError
var ErrUnsupportedVersion = errors.New("unsupported trace version")

// UnsupportedVersionError rejects traces of any version other than Version.
// Unknown versions are never guessed at.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("trace: unsupported version %d (want %d)", e.Version, Version)
}

func (e *UnsupportedVersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

// Validate checks the structural invariants of a decoded trace: a known
// version, non-empty method names, valid tags and strictly increasing
// sequence numbers within each stream.
func Validate(t *Trace) error {
	if t.Version != Version {
		return &UnsupportedVersionError{Version: t.Version}
	}
	for _, dir := range []Direction{Call, Callback} {
		for name, m := range t.Stream(dir) {
			if name == "" {
				return fmt.Errorf("trace: empty method name in %s stream", dir)
			}
			for i, rec := range m {
				if i > 0 && rec.Seq != 0 && rec.Seq <= m[i-1].Seq {
					return fmt.Errorf("trace: %s %s record %d: seq %d not after %d", dir, name, i, rec.Seq, m[i-1].Seq)
				}
				for j, a := range rec.Args {
					if err := validateTag(a); err != nil {
						return fmt.Errorf("trace: %s %s record %d argument %d: %w", dir, name, i, j, err)
					}
				}
				if rec.Ret != nil {
					if err := validateTag(*rec.Ret); err != nil {
						return fmt.Errorf("trace: %s %s record %d return: %w", dir, name, i, err)
					}
				}
			}
		}
	}
	return nil
}

func validateTag(t codec.Tag) error {
	switch t.Type {
	case codec.TagAbsent, codec.TagPrimitive:
		return nil
	case codec.TagRef:
		if t.Kind == "" {
			return fmt.Errorf("reference without kind")
		}
		return nil
	case codec.TagBuffer:
		if t.Buf == nil {
			return fmt.Errorf("buffer without payload")
		}
		return t.Buf.Validate()
	}
	return &codec.UnknownTagError{Type: t.Type}
}

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://calltrace.dev/schema/trace-v1.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("trace: add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateJSON checks raw JSON against the trace schema. The version is
// checked first so an unknown version reports UnsupportedVersionError rather
// than a schema mismatch.
func ValidateJSON(data []byte) error {
	var head struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("trace: decode json: %w", err)
	}
	if head.Version == nil {
		return fmt.Errorf("trace: missing version")
	}
	if *head.Version != Version {
		return &UnsupportedVersionError{Version: *head.Version}
	}

	s, err := compiledSchema()
	if err != nil {
		return err
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("trace: decode json: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("trace: schema validation failed: %w", err)
	}
	return nil
}
