package instrumentation

import (
	"path/filepath"
	"strings"

	"github.com/willibrandon/calltrace/pkg/trace"
)

// Options stores configuration for selective instrumentation
type Options struct {
	// Enabled indicates whether instrumentation is enabled
	Enabled bool

	// IncludeTypes lists type or "Type.method" patterns to record.
	// Empty means everything is recorded.
	IncludeTypes []string

	// ExcludeTypes lists patterns that are never recorded.
	// This takes precedence over IncludeTypes.
	ExcludeTypes []string
}

// DefaultOptions returns the default instrumentation options
func DefaultOptions() Options {
	return Options{
		Enabled:      true,
		IncludeTypes: []string{}, // Empty means all types
		ExcludeTypes: []string{},
	}
}

// ShouldInstrument checks if calls to typ.method should be recorded
func (o Options) ShouldInstrument(typ, method string) bool {
	if !o.Enabled {
		return false
	}

	name := trace.QualifiedName(typ, method)
	for _, exclude := range o.ExcludeTypes {
		if matches(typ, name, exclude) {
			return false
		}
	}

	// If no includes specified, instrument everything except exclusions
	if len(o.IncludeTypes) == 0 {
		return true
	}

	for _, include := range o.IncludeTypes {
		if matches(typ, name, include) {
			return true
		}
	}
	return false
}

// matches checks a pattern against the type name and the qualified method
// name. A trailing "..." matches by prefix, anything else is a glob.
func matches(typ, name, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(pattern, "...") {
		prefix := strings.TrimSuffix(pattern, "...")
		return strings.HasPrefix(name, prefix)
	}
	if ok, _ := filepath.Match(pattern, typ); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, name)
	return ok
}

// ParsePatterns splits a comma separated pattern list
func ParsePatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
