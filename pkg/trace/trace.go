// Package trace holds the versioned trace model: per-method ordered streams
// of call records, one set for caller-initiated calls and one for
// runtime-initiated callbacks.
package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/willibrandon/calltrace/pkg/codec"
)

// Version is the only trace schema version this package reads and writes.
const Version = 1

// Direction separates the two recorded streams.
type Direction int

const (
	// Call is a caller-initiated invocation of the runtime API
	Call Direction = iota
	// Callback is a runtime-initiated invocation of user code
	Callback
)

// String returns the string representation of the Direction
func (d Direction) String() string {
	switch d {
	case Call:
		return "call"
	case Callback:
		return "callback"
	default:
		return "unknown"
	}
}

// ParseDirection parses "call" or "callback"
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "call", "calls":
		return Call, nil
	case "callback", "callbacks":
		return Callback, nil
	}
	return 0, fmt.Errorf("trace: unknown direction %q", s)
}

// CallRecord is one observed invocation. Seq is the global observation order
// across both streams. Ret is nil when no return was observed.
type CallRecord struct {
	Seq  uint64      `json:"seq" cbor:"0,keyasint"`
	Args []codec.Tag `json:"args" cbor:"1,keyasint"`
	Ret  *codec.Tag  `json:"ret,omitempty" cbor:"2,keyasint,omitempty"`
}

// UnmarshalJSON keeps an explicit "ret": null as a null primitive rather
// than dropping it.
func (r *CallRecord) UnmarshalJSON(data []byte) error {
	type plain CallRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["ret"]; ok && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		nullTag := codec.PrimitiveTag(nil)
		p.Ret = &nullTag
	}
	if p.Args == nil {
		p.Args = []codec.Tag{}
	}
	*r = CallRecord(p)
	return nil
}

// Clone returns a deep copy of the record
func (r CallRecord) Clone() CallRecord {
	c := CallRecord{Seq: r.Seq, Args: make([]codec.Tag, len(r.Args))}
	for i, a := range r.Args {
		c.Args[i] = a.Clone()
	}
	if r.Ret != nil {
		ret := r.Ret.Clone()
		c.Ret = &ret
	}
	return c
}

// MethodTrace is the ordered stream of records of one method.
type MethodTrace []CallRecord

// Trace is the persisted artifact. Streams are keyed by qualified method name
// ("Type.method"). A Trace is immutable once produced and may be shared
// between replay sessions.
type Trace struct {
	Version   int                    `json:"version" cbor:"0,keyasint"`
	Calls     map[string]MethodTrace `json:"calls" cbor:"1,keyasint"`
	Callbacks map[string]MethodTrace `json:"callbacks" cbor:"2,keyasint"`
}

// New returns an empty trace of the current version
func New() *Trace {
	return &Trace{
		Version:   Version,
		Calls:     make(map[string]MethodTrace),
		Callbacks: make(map[string]MethodTrace),
	}
}

// QualifiedName joins a type and method name into a stream key
func QualifiedName(typ, method string) string {
	if typ == "" {
		return method
	}
	return typ + "." + method
}

// SplitName splits a stream key into its type and method
func SplitName(name string) (typ, method string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// Stream returns the streams of one direction
func (t *Trace) Stream(dir Direction) map[string]MethodTrace {
	if dir == Callback {
		return t.Callbacks
	}
	return t.Calls
}

// Methods returns the sorted method keys of one direction
func (t *Trace) Methods(dir Direction) []string {
	stream := t.Stream(dir)
	keys := make([]string, 0, len(stream))
	for k := range stream {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of records of one direction
func (t *Trace) Len(dir Direction) int {
	n := 0
	for _, m := range t.Stream(dir) {
		n += len(m)
	}
	return n
}

// Clone returns a deep copy of the trace
func (t *Trace) Clone() *Trace {
	c := &Trace{
		Version:   t.Version,
		Calls:     cloneStreams(t.Calls),
		Callbacks: cloneStreams(t.Callbacks),
	}
	return c
}

func cloneStreams(in map[string]MethodTrace) map[string]MethodTrace {
	out := make(map[string]MethodTrace, len(in))
	for k, m := range in {
		cm := make(MethodTrace, len(m))
		for i, r := range m {
			cm[i] = r.Clone()
		}
		out[k] = cm
	}
	return out
}

// MethodSummary counts the records of one method
type MethodSummary struct {
	Name      string
	Calls     int
	Callbacks int
}

// Summary returns one line per method, sorted by name
func (t *Trace) Summary() []MethodSummary {
	byName := make(map[string]*MethodSummary)
	get := func(name string) *MethodSummary {
		s, ok := byName[name]
		if !ok {
			s = &MethodSummary{Name: name}
			byName[name] = s
		}
		return s
	}
	for name, m := range t.Calls {
		get(name).Calls = len(m)
	}
	for name, m := range t.Callbacks {
		get(name).Callbacks = len(m)
	}
	out := make([]MethodSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
