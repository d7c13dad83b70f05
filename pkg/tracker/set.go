package tracker

import (
	"reflect"
	"sort"
)

// Set holds the trackers of one runtime instance, one per registered kind,
// and a registry of Go types to kinds used to infer the kind of a value.
type Set struct {
	trackers map[Kind]*Tracker
	byType   map[reflect.Type]Kind
	opts     *Options
}

// NewSet creates an empty set
func NewSet(opts ...Option) *Set {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Set{
		trackers: make(map[Kind]*Tracker),
		byType:   make(map[reflect.Type]Kind),
		opts:     &o,
	}
}

// Register adds a tracker for kind. Each sample's dynamic Go type is mapped to
// kind so values of that type can be encoded without a kind hint. Registering
// an existing kind returns its tracker.
func (s *Set) Register(kind Kind, samples ...any) *Tracker {
	t, ok := s.trackers[kind]
	if !ok {
		t = newTracker(kind, s.opts)
		s.trackers[kind] = t
	}
	for _, sample := range samples {
		if sample == nil {
			continue
		}
		s.byType[reflect.TypeOf(sample)] = kind
	}
	return t
}

// RegisterType maps a Go type to kind, registering kind if needed.
func (s *Set) RegisterType(kind Kind, typ reflect.Type) *Tracker {
	t := s.Register(kind)
	s.byType[typ] = kind
	return t
}

// Tracker returns the tracker for kind, or UnknownKindError.
func (s *Set) Tracker(kind Kind) (*Tracker, error) {
	t, ok := s.trackers[kind]
	if !ok {
		return nil, &UnknownKindError{Kind: kind}
	}
	return t, nil
}

// KindOf infers the kind of v from its Go type.
func (s *Set) KindOf(v any) (Kind, bool) {
	if v == nil {
		return "", false
	}
	k, ok := s.byType[reflect.TypeOf(v)]
	return k, ok
}

// Kinds returns the registered kinds in sorted order
func (s *Set) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s.trackers))
	for k := range s.trackers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Fresh returns an empty set with the same kinds and type registry, for a new
// runtime instance. Handles are not carried over.
func (s *Set) Fresh() *Set {
	opts := *s.opts
	n := &Set{
		trackers: make(map[Kind]*Tracker, len(s.trackers)),
		byType:   make(map[reflect.Type]Kind, len(s.byType)),
		opts:     &opts,
	}
	for k := range s.trackers {
		n.trackers[k] = newTracker(k, n.opts)
	}
	for typ, k := range s.byType {
		n.byType[typ] = k
	}
	return n
}

// SetSeqSource replaces the sequence source of every tracker in the set.
func (s *Set) SetSeqSource(fn func() uint64) {
	s.opts.Seq = fn
}

// Stats returns per-kind statistics in kind order
func (s *Set) Stats() []Stats {
	out := make([]Stats, 0, len(s.trackers))
	for _, k := range s.Kinds() {
		out = append(out, s.trackers[k].Stats())
	}
	return out
}
