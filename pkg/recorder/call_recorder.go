package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/trace"
	"github.com/willibrandon/calltrace/pkg/tracker"
)

// ErrAlreadyReturned is returned when a pending record is completed twice
var ErrAlreadyReturned = errors.New("recorder: record already returned")

// Signature declares the object kinds of a method's arguments and return
// value. An empty kind means "infer from the Go type".
type Signature struct {
	Args []tracker.Kind
	Ret  tracker.Kind
}

// Options configures a CallRecorder
type Options struct {
	// Sink receives every completed record; nil disables journaling
	Sink Sink
	// Signatures are keyed by qualified method name
	Signatures map[string]Signature
	Logger     *slog.Logger
}

// Option is a functional option for New
type Option func(*Options)

// DefaultOptions returns options with no sink and a discarding logger
func DefaultOptions() Options {
	return Options{
		Signatures: map[string]Signature{},
		Logger:     slog.New(slog.DiscardHandler),
	}
}

// WithSink journals completed records to s
func WithSink(s Sink) Option {
	return func(o *Options) { o.Sink = s }
}

// WithSignature declares the kinds of one method
func WithSignature(typ, method string, sig Signature) Option {
	return func(o *Options) { o.Signatures[trace.QualifiedName(typ, method)] = sig }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// CallRecorder builds a trace from intercepted calls and callbacks. Argument
// encoding happens synchronously at call time, so a record reflects object
// identities before the call had any effect.
type CallRecorder struct {
	mu      sync.Mutex
	codec   *codec.Codec
	builder *trace.Builder
	next    uint64
	last    uint64
	sink    Sink
	sigs    map[string]Signature
	log     *slog.Logger
}

// New creates a recorder over set. The set's destruction records are stamped
// with the recorder's sequence number.
func New(set *tracker.Set, opts ...Option) *CallRecorder {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &CallRecorder{
		codec:   codec.New(set),
		builder: trace.NewBuilder(),
		sink:    o.Sink,
		sigs:    o.Signatures,
		log:     o.Logger,
	}
	set.SetSeqSource(r.Seq)
	return r
}

// Codec returns the recorder's codec
func (r *CallRecorder) Codec() *codec.Codec {
	return r.codec
}

// Seq returns the sequence number of the most recently begun record
func (r *CallRecorder) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Count returns how many records have been begun
func (r *CallRecorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Pending is a record whose arguments are captured and whose return value
// is still outstanding
type Pending struct {
	r       *CallRecorder
	slot    trace.Slot
	dir     trace.Direction
	name    string
	retKind tracker.Kind
	done    bool
}

// Begin records the arguments of a call as it starts. The record takes its
// place in the method stream and the global sequence immediately, so nested
// calls made before it returns are ordered after it.
func (r *CallRecorder) Begin(dir trace.Direction, typ, method string, args ...any) (*Pending, error) {
	name := trace.QualifiedName(typ, method)

	r.mu.Lock()
	defer r.mu.Unlock()

	sig := r.sigs[name]
	tags, err := r.codec.EncodeAll(sig.Args, args)
	if err != nil {
		r.log.Error("encode arguments", "method", name, "direction", dir.String(), "error", err)
		return nil, fmt.Errorf("record %s: %w", name, err)
	}

	seq := r.next
	r.next++
	r.last = seq
	slot := r.builder.Append(dir, name, trace.CallRecord{Seq: seq, Args: tags})
	r.log.Debug("begin", "method", name, "direction", dir.String(), "seq", seq)

	return &Pending{r: r, slot: slot, dir: dir, name: name, retKind: sig.Ret}, nil
}

// Record is Begin followed by Return for calls whose arguments cannot have
// been affected by the call itself.
func (r *CallRecorder) Record(dir trace.Direction, typ, method string, args []any, ret any) error {
	p, err := r.Begin(dir, typ, method, args...)
	if err != nil {
		return err
	}
	return p.Return(ret)
}

// Return completes the record with ret, using the declared return kind
func (p *Pending) Return(ret any) error {
	return p.ReturnKind(p.retKind, ret)
}

// ReturnKind completes the record with ret encoded as kind. Returned objects
// are adopted: an identity the runtime reuses after a destruction gets a new
// handle.
func (p *Pending) ReturnKind(kind tracker.Kind, ret any) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()

	if p.done {
		return ErrAlreadyReturned
	}
	tag, err := p.r.codec.EncodeResult(kind, ret)
	if err != nil {
		p.r.log.Error("encode return", "method", p.name, "error", err)
		return fmt.Errorf("record %s return: %w", p.name, err)
	}
	return p.finish(tag)
}

// Done completes a record that produced no value
func (p *Pending) Done() error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()

	if p.done {
		return ErrAlreadyReturned
	}
	return p.finish(codec.AbsentTag())
}

// Seq returns the record's global sequence number
func (p *Pending) Seq() uint64 {
	return p.slot.Record().Seq
}

func (p *Pending) finish(tag codec.Tag) error {
	p.slot.SetReturn(tag)
	p.done = true
	if p.r.sink == nil {
		return nil
	}
	e := trace.Entry{Direction: p.dir, Name: p.name, Record: p.slot.Record()}
	if err := p.r.sink.RecordEntry(e); err != nil {
		p.r.log.Warn("journal entry", "method", p.name, "error", err)
		return fmt.Errorf("journal %s: %w", p.name, err)
	}
	return nil
}

// Release notifies the recorder that the runtime destroyed obj. It must be
// called synchronously from the destruction hook.
func (r *CallRecorder) Release(kind tracker.Kind, obj any, note string) error {
	released, err := r.codec.Guard().Release(kind, obj, note)
	if err != nil {
		return err
	}
	if released {
		r.log.Debug("release", "kind", string(kind), "note", note, "seq", r.Seq())
	}
	return nil
}

// Trace returns a snapshot of everything recorded so far. Records whose
// return is still pending have no ret.
func (r *CallRecorder) Trace() *trace.Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builder.Build()
}

// Reset discards recorded calls. Object handles are kept.
func (r *CallRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builder.Reset()
	if r.sink != nil {
		r.sink.Clear()
	}
}
