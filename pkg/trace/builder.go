package trace

import (
	"sort"

	"github.com/willibrandon/calltrace/pkg/codec"
)

// Builder accumulates records while recording. Records take their position
// in their stream when appended, so stream order is observation order even
// if the return value arrives later.
type Builder struct {
	t *Trace
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{t: New()}
}

// Slot addresses one appended record so its return value can be filled in.
type Slot struct {
	b     *Builder
	dir   Direction
	name  string
	index int
}

// Append adds a record to the stream of (dir, name) and returns its slot
func (b *Builder) Append(dir Direction, name string, rec CallRecord) Slot {
	stream := b.t.Stream(dir)
	stream[name] = append(stream[name], rec)
	return Slot{b: b, dir: dir, name: name, index: len(stream[name]) - 1}
}

// SetReturn records the return value of the call at s
func (s Slot) SetReturn(ret codec.Tag) {
	s.b.t.Stream(s.dir)[s.name][s.index].Ret = &ret
}

// Record returns a copy of the record at s
func (s Slot) Record() CallRecord {
	return s.b.t.Stream(s.dir)[s.name][s.index].Clone()
}

// Len returns the number of records of one direction
func (b *Builder) Len(dir Direction) int {
	return b.t.Len(dir)
}

// Build returns a deep copy of the accumulated trace
func (b *Builder) Build() *Trace {
	return b.t.Clone()
}

// Reset discards everything recorded so far
func (b *Builder) Reset() {
	b.t = New()
}

// Entry is one completed record as journaled by a recorder sink.
type Entry struct {
	Direction Direction  `json:"direction"`
	Name      string     `json:"name"`
	Record    CallRecord `json:"record"`
}

// FromEntries rebuilds a trace from journal entries, which may have been
// written in completion order rather than call order.
func FromEntries(entries []Entry) *Trace {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Record.Seq < sorted[j].Record.Seq
	})
	b := NewBuilder()
	for _, e := range sorted {
		b.Append(e.Direction, e.Name, e.Record.Clone())
	}
	return b.t
}
