package recorder

import (
	"sync"

	"github.com/willibrandon/calltrace/pkg/trace"
)

// Sink receives every completed call record. Entries arrive in completion
// order; trace.FromEntries restores call order.
type Sink interface {
	RecordEntry(e trace.Entry) error
	Entries() []trace.Entry
	Clear()
}

// InMemorySink keeps entries in a slice
type InMemorySink struct {
	mu      sync.Mutex
	entries []trace.Entry
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{entries: []trace.Entry{}}
}

func (s *InMemorySink) RecordEntry(e trace.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, trace.Entry{Direction: e.Direction, Name: e.Name, Record: e.Record.Clone()})
	return nil
}

func (s *InMemorySink) Entries() []trace.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trace.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *InMemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = []trace.Entry{}
}
