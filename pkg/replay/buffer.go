package replay

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/trace"
	"github.com/willibrandon/calltrace/pkg/tracker"
)

// State is the lifecycle of a replay buffer
type State int

const (
	Idle State = iota
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Step is one recorded call in replay order
type Step struct {
	// Index is the position in replay order
	Index int
	Name  string
	Type  string
	// Method is the unqualified method name
	Method string
	// Ordinal is the position within the method's own stream
	Ordinal int
	Record  trace.CallRecord
}

// LooseEnd is a callback expected to fire after the call that registered it
// has returned. Its hook runs exactly once: when the callback fires, or
// unresolved when the buffer ends.
type LooseEnd struct {
	Name string
	// Step is the index of the step being replayed at registration, -1 if none
	Step     int
	Resolved bool
	// Record is the recorded callback that resolved it
	Record *trace.CallRecord

	hook   func(*LooseEnd)
	closed bool
}

// Open reports whether the loose end still awaits its callback
func (le *LooseEnd) Open() bool {
	return !le.closed
}

type recordedCallback struct {
	rec      trace.CallRecord
	consumed bool
}

// PendingCallback identifies a recorded callback never matched during replay
type PendingCallback struct {
	Name    string
	Ordinal int
	Seq     uint64
}

// Report summarizes a replay session
type Report struct {
	Session     string
	State       State
	Steps       int
	Position    int
	Degraded    bool
	Divergences []error
	Unresolved  []LooseEnd
	Unconsumed  []PendingCallback
}

// Buffer is a cursor over the calls of one trace. It hands out steps one at
// a time, matches live callbacks against the recorded ones and tracks loose
// ends. A Buffer serves one replay session and is not safe for concurrent
// use.
type Buffer struct {
	steps     []Step
	pos       int
	state     State
	codec     *codec.Codec
	callbacks map[string][]*recordedCallback

	looseEnds   []*LooseEnd
	degraded    bool
	divergences []error
	log         *slog.Logger
}

// NewBuffer creates a buffer over tr. Callback arguments are decoded with c,
// which must be bound to the replay instance's tracker set.
func NewBuffer(tr *trace.Trace, c *codec.Codec, log *slog.Logger) *Buffer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	b := &Buffer{
		steps:     Order(tr),
		pos:       -1,
		state:     Idle,
		codec:     c,
		callbacks: make(map[string][]*recordedCallback),
		log:       log,
	}
	for name, m := range tr.Callbacks {
		entries := make([]*recordedCallback, len(m))
		for i, rec := range m {
			entries[i] = &recordedCallback{rec: rec.Clone()}
		}
		b.callbacks[name] = entries
	}
	return b
}

// Order returns the calls of tr in replay order: by sequence number, then
// by method name and stream position for records that share one.
func Order(tr *trace.Trace) []Step {
	var steps []Step
	for _, name := range tr.Methods(trace.Call) {
		typ, method := trace.SplitName(name)
		for i, rec := range tr.Calls[name] {
			steps = append(steps, Step{
				Name:    name,
				Type:    typ,
				Method:  method,
				Ordinal: i,
				Record:  rec,
			})
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if a.Record.Seq != b.Record.Seq {
			return a.Record.Seq < b.Record.Seq
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Ordinal < b.Ordinal
	})
	for i := range steps {
		steps[i].Index = i
	}
	return steps
}

// Continue advances the cursor by one step and reports whether a step is
// available. When the steps are exhausted the buffer ends: every open loose
// end is closed unresolved. Once ended, Continue keeps returning false.
func (b *Buffer) Continue() bool {
	switch b.state {
	case Ended:
		return false
	case Idle:
		b.state = Running
	}
	if b.pos+1 < len(b.steps) {
		b.pos++
		return true
	}
	b.end()
	return false
}

func (b *Buffer) end() {
	b.state = Ended
	b.pos = len(b.steps)
	for _, le := range b.looseEnds {
		if le.closed {
			continue
		}
		b.log.Warn("unresolved loose end", "callback", le.Name, "step", le.Step)
		b.close(le, false, nil)
	}
}

func (b *Buffer) close(le *LooseEnd, resolved bool, rec *trace.CallRecord) {
	le.closed = true
	le.Resolved = resolved
	le.Record = rec
	if le.hook != nil {
		le.hook(le)
	}
}

// Current returns the step under the cursor
func (b *Buffer) Current() (Step, bool) {
	if b.state != Running || b.pos < 0 || b.pos >= len(b.steps) {
		return Step{}, false
	}
	return b.steps[b.pos], true
}

// Peek returns the step the next Continue will move to
func (b *Buffer) Peek() (Step, bool) {
	if b.state == Ended || b.pos+1 >= len(b.steps) {
		return Step{}, false
	}
	return b.steps[b.pos+1], true
}

// Steps returns every step in replay order
func (b *Buffer) Steps() []Step {
	out := make([]Step, len(b.steps))
	copy(out, b.steps)
	return out
}

func (b *Buffer) State() State {
	return b.state
}

// Ended reports whether the final step has been consumed and no loose end
// can fire any more
func (b *Buffer) Ended() bool {
	return b.state == Ended
}

// Position returns the index of the current step, -1 before the first
// Continue and Len once ended
func (b *Buffer) Position() int {
	return b.pos
}

func (b *Buffer) Len() int {
	return len(b.steps)
}

// Degraded reports whether any divergence was observed
func (b *Buffer) Degraded() bool {
	return b.degraded
}

func (b *Buffer) diverge(err error) {
	b.degraded = true
	b.divergences = append(b.divergences, err)
}

// RegisterLooseEndCallback registers hook for a callback named name that is
// expected to fire after the current step returns. Registering on an ended
// buffer closes the loose end immediately.
func (b *Buffer) RegisterLooseEndCallback(name string, hook func(*LooseEnd)) *LooseEnd {
	le := &LooseEnd{Name: name, Step: -1, hook: hook}
	if b.state == Running && b.pos < len(b.steps) {
		le.Step = b.pos
	}
	b.looseEnds = append(b.looseEnds, le)
	if b.state == Ended {
		b.log.Warn("unresolved loose end", "callback", name, "step", le.Step)
		b.close(le, false, nil)
	}
	return le
}

// MarkCallbackAsReplayed consumes the earliest unconsumed recorded callback
// for name whose arguments match args, and resolves the earliest open loose
// end for it. Objects passed to the callback that the replay instance has not
// seen yet are bound to the recorded handles.
//
// With no match it returns UnexpectedCallbackError. A match that skips an
// earlier pending entry is consumed and returned together with an
// OrderViolationError. Both mark the session degraded.
func (b *Buffer) MarkCallbackAsReplayed(name string, args []any) (*trace.CallRecord, error) {
	entries := b.callbacks[name]

	first := -1
	matched := -1
	var binds []binding
	for i, e := range entries {
		if e.consumed {
			continue
		}
		if first < 0 {
			first = i
		}
		if bs, ok := b.matchArgs(e.rec.Args, args); ok {
			matched = i
			binds = bs
			break
		}
	}

	if matched < 0 {
		err := &UnexpectedCallbackError{Name: name, Args: args}
		b.log.Warn("unexpected callback", "callback", name, "args", len(args))
		b.diverge(err)
		return nil, err
	}

	for _, bd := range binds {
		if err := bd.tracker.Bind(bd.handle, bd.obj); err != nil {
			b.log.Warn("bind callback argument", "callback", name, "error", err)
		}
	}

	e := entries[matched]
	e.consumed = true
	rec := e.rec.Clone()

	for _, le := range b.looseEnds {
		if !le.closed && le.Name == name {
			b.close(le, true, &rec)
			break
		}
	}

	if matched != first {
		err := &OrderViolationError{Name: name, Matched: matched, Expected: first}
		b.log.Warn("callback out of order", "callback", name, "matched", matched, "expected", first)
		b.diverge(err)
		return &rec, err
	}
	return &rec, nil
}

type binding struct {
	tracker *tracker.Tracker
	handle  tracker.Handle
	obj     any
}

// matchArgs compares recorded tags with live arguments. A reference the
// replay instance cannot resolve matches a live object of the same kind that
// it does not know yet; the pair is returned for binding. Plain values never
// match a reference.
func (b *Buffer) matchArgs(tags []codec.Tag, args []any) ([]binding, bool) {
	if len(tags) != len(args) {
		return nil, false
	}
	var binds []binding
	for i, tag := range tags {
		decoded, err := b.codec.Decode(tag, "")
		if err == nil {
			if !codec.Equivalent(args[i], decoded) {
				return nil, false
			}
			continue
		}
		if !errors.Is(err, tracker.ErrUnresolvedHandle) || args[i] == nil {
			return nil, false
		}
		t, terr := b.codec.Set().Tracker(tag.Kind)
		if terr != nil {
			return nil, false
		}
		kind, ok := b.codec.Set().KindOf(args[i])
		if ok && kind != tag.Kind {
			return nil, false
		}
		if !ok && codec.IsPrimitive(args[i]) {
			return nil, false
		}
		if h, known := t.Lookup(args[i]); known && t.ObjectFor(h) != tracker.Dead {
			return nil, false
		}
		binds = append(binds, binding{tracker: t, handle: tag.Handle, obj: args[i]})
	}
	return binds, true
}

// Report summarizes the session so far
func (b *Buffer) Report() *Report {
	r := &Report{
		State:       b.state,
		Steps:       len(b.steps),
		Position:    b.pos,
		Degraded:    b.degraded,
		Divergences: append([]error(nil), b.divergences...),
	}
	for _, le := range b.looseEnds {
		if le.closed && !le.Resolved {
			r.Unresolved = append(r.Unresolved, LooseEnd{Name: le.Name, Step: le.Step})
		}
	}
	names := make([]string, 0, len(b.callbacks))
	for name := range b.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for i, e := range b.callbacks[name] {
			if !e.consumed {
				r.Unconsumed = append(r.Unconsumed, PendingCallback{Name: name, Ordinal: i, Seq: e.rec.Seq})
			}
		}
	}
	return r
}
