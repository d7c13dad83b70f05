// Package tracker maps live runtime objects to stable integer handles, one
// Tracker per object kind and runtime instance, and remembers where released
// objects were destroyed.
//
// Trackers are not safe for concurrent use. Recording and replay observe one
// call at a time, so a session owns its trackers exclusively.
package tracker

import (
	"fmt"
	"reflect"
	"time"
)

// Kind names a class of runtime objects ("Mesh", "Scene", ...).
type Kind string

// Handle identifies one object of a kind within one runtime instance.
// Handles start at 0 and are never reused within a session.
type Handle uint64

// DeadMarker is what ObjectFor returns for a released handle.
type DeadMarker struct{}

func (DeadMarker) String() string { return "<dead>" }

// Dead is the dead marker value.
var Dead = DeadMarker{}

type entry struct {
	obj  any
	dead *DestructionRecord
}

// Options configures diagnostic capture for trackers.
type Options struct {
	// Stack captures the stack stored in destruction records. Nil disables it.
	Stack StackFunc
	// Seq reports the current recorder sequence number.
	Seq func() uint64
	// Now is the clock used for destruction timestamps.
	Now func() time.Time
}

// DefaultOptions returns options that capture caller stacks and wall-clock time
func DefaultOptions() Options {
	return Options{
		Stack: CallerStack,
		Seq:   func() uint64 { return 0 },
		Now:   time.Now,
	}
}

// Option mutates Options
type Option func(*Options)

// WithStack sets the stack capture function
func WithStack(fn StackFunc) Option {
	return func(o *Options) { o.Stack = fn }
}

// WithSeq sets the sequence source used for destruction records
func WithSeq(fn func() uint64) Option {
	return func(o *Options) { o.Seq = fn }
}

// WithClock sets the clock used for destruction records
func WithClock(fn func() time.Time) Option {
	return func(o *Options) { o.Now = fn }
}

// Tracker owns the object <-> handle mapping of one kind.
type Tracker struct {
	kind    Kind
	handles map[any]Handle
	objects map[Handle]*entry
	next    Handle
	opts    *Options
}

// NewTracker creates an empty tracker for kind
func NewTracker(kind Kind, opts ...Option) *Tracker {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newTracker(kind, &o)
}

func newTracker(kind Kind, opts *Options) *Tracker {
	return &Tracker{
		kind:    kind,
		handles: make(map[any]Handle),
		objects: make(map[Handle]*entry),
		opts:    opts,
	}
}

// Kind returns the kind tracked
func (t *Tracker) Kind() Kind {
	return t.kind
}

// IDFor returns the handle of obj, allocating one the first time obj is seen.
// Asking for a released object fails with UseAfterDestroyError.
func (t *Tracker) IDFor(obj any) (Handle, error) {
	if err := checkKey(obj); err != nil {
		return 0, err
	}
	if h, ok := t.handles[obj]; ok {
		e := t.objects[h]
		if e.dead != nil {
			return h, &UseAfterDestroyError{Record: *e.dead}
		}
		return h, nil
	}
	return t.allocate(obj), nil
}

// Adopt returns the handle of an object the runtime just handed out. A
// previously released object at the same identity is a new object and gets a
// fresh handle.
func (t *Tracker) Adopt(obj any) (Handle, error) {
	if err := checkKey(obj); err != nil {
		return 0, err
	}
	if h, ok := t.handles[obj]; ok && t.objects[h].dead == nil {
		return h, nil
	}
	return t.allocate(obj), nil
}

func (t *Tracker) allocate(obj any) Handle {
	h := t.next
	t.next++
	t.handles[obj] = h
	t.objects[h] = &entry{obj: obj}
	return h
}

// Bind associates a recorded handle with the live object that plays its role
// in the current instance. Used during replay, where handles come from the
// trace rather than from allocation.
func (t *Tracker) Bind(h Handle, obj any) error {
	if err := checkKey(obj); err != nil {
		return err
	}
	if e, ok := t.objects[h]; ok {
		if e.dead != nil {
			return &UseAfterDestroyError{Record: *e.dead}
		}
		if e.obj == obj {
			return nil
		}
		return fmt.Errorf("%w: %s handle %d already bound to another object", ErrHandleConflict, t.kind, h)
	}
	if prev, ok := t.handles[obj]; ok && t.objects[prev].dead == nil {
		return fmt.Errorf("%w: object already bound to %s handle %d, not %d", ErrHandleConflict, t.kind, prev, h)
	}
	t.handles[obj] = h
	t.objects[h] = &entry{obj: obj}
	if h >= t.next {
		t.next = h + 1
	}
	return nil
}

// ObjectFor returns the live object for h, Dead if it was released, or nil if
// the handle was never assigned in this instance.
func (t *Tracker) ObjectFor(h Handle) any {
	e, ok := t.objects[h]
	if !ok {
		return nil
	}
	if e.dead != nil {
		return Dead
	}
	return e.obj
}

// Lookup returns the handle of obj without allocating. The handle may be dead.
func (t *Tracker) Lookup(obj any) (Handle, bool) {
	if checkKey(obj) != nil {
		return 0, false
	}
	h, ok := t.handles[obj]
	return h, ok
}

// Release marks the handle of obj dead and captures a destruction record.
// Releasing an unknown or already released object is a no-op: destruction
// notifications may arrive more than once. It reports whether anything changed.
func (t *Tracker) Release(obj any, note string) bool {
	h, ok := t.Lookup(obj)
	if !ok {
		return false
	}
	return t.ReleaseHandle(h, note)
}

// ReleaseHandle is Release addressed by handle.
func (t *Tracker) ReleaseHandle(h Handle, note string) bool {
	e, ok := t.objects[h]
	if !ok || e.dead != nil {
		return false
	}
	rec := DestructionRecord{
		Kind:   t.kind,
		Handle: h,
		Note:   note,
	}
	if t.opts.Stack != nil {
		rec.Stack = t.opts.Stack()
	}
	if t.opts.Seq != nil {
		rec.Seq = t.opts.Seq()
	}
	if t.opts.Now != nil {
		rec.Time = t.opts.Now()
	}
	e.dead = &rec
	return true
}

// Destruction returns the destruction record of h, if it was released.
func (t *Tracker) Destruction(h Handle) (DestructionRecord, bool) {
	e, ok := t.objects[h]
	if !ok || e.dead == nil {
		return DestructionRecord{}, false
	}
	return *e.dead, true
}

// Stats summarizes a tracker.
type Stats struct {
	Kind Kind
	Live int
	Dead int
	Next Handle
}

// Stats returns the live and dead counts and the next handle to be assigned
func (t *Tracker) Stats() Stats {
	s := Stats{Kind: t.kind, Next: t.next}
	for _, e := range t.objects {
		if e.dead != nil {
			s.Dead++
		} else {
			s.Live++
		}
	}
	return s
}

func checkKey(obj any) error {
	if obj == nil {
		return fmt.Errorf("tracker: nil object")
	}
	if !reflect.TypeOf(obj).Comparable() {
		return fmt.Errorf("tracker: object of type %T is not comparable", obj)
	}
	return nil
}
