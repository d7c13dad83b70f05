package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/trace"
	"github.com/willibrandon/calltrace/pkg/tracker"
)

const tracerName = "github.com/willibrandon/calltrace/pkg/replay"

// Call is one reconstructed invocation handed to the runtime
type Call struct {
	Type   string
	Method string
	Args   []any
}

// Name returns the qualified method name
func (c Call) Name() string {
	return trace.QualifiedName(c.Type, c.Method)
}

// Runtime executes reconstructed calls against a live runtime instance.
// Objects it creates come back as return values and are bound to the
// recorded handles.
type Runtime interface {
	Invoke(ctx context.Context, call Call) (any, error)
}

// RuntimeFunc adapts a function to Runtime
type RuntimeFunc func(ctx context.Context, call Call) (any, error)

func (f RuntimeFunc) Invoke(ctx context.Context, call Call) (any, error) {
	return f(ctx, call)
}

// Options configures a Replayer
type Options struct {
	Logger *slog.Logger
	// HaltOnDivergence stops Run at the first divergence
	HaltOnDivergence bool
	Breakpoints      *BreakpointManager
	Tracer           oteltrace.Tracer
	SessionID        string
}

// Option is a functional option for NewReplayer
type Option func(*Options)

// DefaultOptions returns options with a discarding logger, no breakpoints and
// the global tracer
func DefaultOptions() Options {
	return Options{
		Logger: slog.New(slog.DiscardHandler),
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func WithHaltOnDivergence(halt bool) Option {
	return func(o *Options) { o.HaltOnDivergence = halt }
}

func WithBreakpoints(bm *BreakpointManager) Option {
	return func(o *Options) { o.Breakpoints = bm }
}

func WithTracer(t oteltrace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

func WithSessionID(id string) Option {
	return func(o *Options) { o.SessionID = id }
}

// Replayer drives a trace against a fresh runtime instance, one step at a
// time
type Replayer struct {
	id     string
	rt     Runtime
	set    *tracker.Set
	codec  *codec.Codec
	buf    *Buffer
	opts   Options
	log    *slog.Logger
	tracer oteltrace.Tracer

	// haltedAt is the step a breakpoint last stopped before, so resuming
	// executes it instead of stopping again
	haltedAt int
}

// NewReplayer creates a session over tr. set supplies the kinds; the session
// tracks objects in a fresh copy of it.
func NewReplayer(tr *trace.Trace, rt Runtime, set *tracker.Set, opts ...Option) *Replayer {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}

	fresh := set.Fresh()
	c := codec.New(fresh)
	log := o.Logger.With("session", o.SessionID)
	buf := NewBuffer(tr, c, log)
	// Destructions during replay are stamped with the seq of the step that
	// caused them.
	fresh.SetSeqSource(func() uint64 {
		if s, ok := buf.Current(); ok {
			return s.Record.Seq
		}
		return 0
	})
	return &Replayer{
		id:       o.SessionID,
		rt:       rt,
		set:      fresh,
		codec:    c,
		buf:      buf,
		opts:     o,
		log:      log,
		tracer:   o.Tracer,
		haltedAt: -1,
	}
}

// ID returns the session id
func (r *Replayer) ID() string {
	return r.id
}

// Set returns the replay instance's tracker set
func (r *Replayer) Set() *tracker.Set {
	return r.set
}

// Bind maps a recorded handle to a live object the runtime created outside
// any recorded call, such as the root object of an instance
func (r *Replayer) Bind(kind tracker.Kind, h tracker.Handle, obj any) error {
	t, err := r.set.Tracker(kind)
	if err != nil {
		return err
	}
	return t.Bind(h, obj)
}

func (r *Replayer) Buffer() *Buffer {
	return r.buf
}

func (r *Replayer) Codec() *codec.Codec {
	return r.codec
}

// Step replays the next step. It returns false once the trace is
// exhausted. A returned StepError or ReturnMismatchError means the step
// diverged; replay can continue.
func (r *Replayer) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !r.buf.Continue() {
		return false, nil
	}
	step, _ := r.buf.Current()
	return true, r.execute(ctx, step)
}

func (r *Replayer) execute(ctx context.Context, step Step) error {
	ctx, span := r.tracer.Start(ctx, "replay.step",
		oteltrace.WithAttributes(
			attribute.String("replay.session", r.id),
			attribute.String("replay.method", step.Name),
			attribute.Int("replay.index", step.Index),
			attribute.Int64("replay.seq", int64(step.Record.Seq)),
		))
	defer span.End()

	err := r.replayStep(ctx, step)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step diverged")
	}
	return err
}

func (r *Replayer) replayStep(ctx context.Context, step Step) error {
	args, err := r.codec.DecodeAll(step.Record.Args)
	if err != nil {
		if errors.Is(err, tracker.ErrUnresolvedHandle) || errors.Is(err, tracker.ErrUseAfterDestroy) {
			se := &StepError{Step: step, Err: err}
			r.log.Warn("skipping step", "index", step.Index, "method", step.Name, "error", err)
			r.buf.diverge(se)
			return se
		}
		return fmt.Errorf("replay: step %d (%s): %w", step.Index, step.Name, err)
	}

	result, err := r.rt.Invoke(ctx, Call{Type: step.Type, Method: step.Method, Args: args})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		se := &StepError{Step: step, Err: fmt.Errorf("invoke: %w", err)}
		r.log.Warn("runtime call failed", "index", step.Index, "method", step.Name, "error", err)
		r.buf.diverge(se)
		return se
	}

	if err := r.checkReturn(step, result); err != nil {
		r.log.Warn("return mismatch", "index", step.Index, "method", step.Name, "error", err)
		r.buf.diverge(err)
		return err
	}
	r.log.Debug("step replayed", "index", step.Index, "method", step.Name)
	return nil
}

// checkReturn binds returned objects to their recorded handles and compares
// everything else with the recording
func (r *Replayer) checkReturn(step Step, result any) error {
	want := step.Record.Ret
	if want == nil {
		return nil
	}
	mismatch := func(err error) error {
		return &ReturnMismatchError{Step: step, Want: *want, Got: result, Err: err}
	}

	switch want.Type {
	case codec.TagAbsent:
		return nil
	case codec.TagRef:
		if result == nil {
			return mismatch(nil)
		}
		t, err := r.set.Tracker(want.Kind)
		if err != nil {
			return err
		}
		if err := t.Bind(want.Handle, result); err != nil {
			return mismatch(err)
		}
		return nil
	case codec.TagPrimitive, codec.TagBuffer:
		decoded, err := r.codec.Decode(*want, "")
		if err != nil {
			return mismatch(err)
		}
		if !codec.Equivalent(result, decoded) {
			return mismatch(nil)
		}
		return nil
	}
	return &codec.UnknownTagError{Type: want.Type}
}

// Run replays every remaining step
func (r *Replayer) Run(ctx context.Context) (*Report, error) {
	return r.RunUntil(ctx, nil)
}

// RunUntil replays steps until the trace ends, stop returns true for the next
// step, or a breakpoint matches it. Stopping leaves that step unexecuted; the
// next RunUntil executes it without stopping again. Divergences are collected
// in the report; fatal decode errors and context cancellation abort the run.
func (r *Replayer) RunUntil(ctx context.Context, stop func(Step) bool) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "replay.run",
		oteltrace.WithAttributes(
			attribute.String("replay.session", r.id),
			attribute.Int("replay.steps", r.buf.Len()),
		))
	defer span.End()

	for {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return r.Report(), err
		}

		if next, ok := r.buf.Peek(); ok && next.Index != r.haltedAt {
			if r.shouldStop(next, stop) {
				r.haltedAt = next.Index
				span.SetAttributes(attribute.Int("replay.halted_at", next.Index))
				return r.Report(), nil
			}
		}

		more, err := r.Step(ctx)
		if !more && err == nil {
			break
		}
		if err != nil {
			if !errors.Is(err, ErrDivergence) || r.opts.HaltOnDivergence {
				span.RecordError(err)
				span.SetStatus(codes.Error, "replay aborted")
				return r.Report(), err
			}
		}
	}

	report := r.Report()
	span.SetAttributes(
		attribute.Bool("replay.degraded", report.Degraded),
		attribute.Int("replay.unresolved", len(report.Unresolved)),
	)
	r.log.Info("replay finished",
		"steps", report.Steps,
		"degraded", report.Degraded,
		"divergences", len(report.Divergences),
		"unresolved", len(report.Unresolved),
		"unconsumed", len(report.Unconsumed))
	return report, nil
}

func (r *Replayer) shouldStop(next Step, stop func(Step) bool) bool {
	if stop != nil && stop(next) {
		return true
	}
	if r.opts.Breakpoints != nil {
		if bp, hit := r.opts.Breakpoints.CheckBreakpoint(next); hit {
			r.log.Info("breakpoint hit", "id", bp.ID, "location", bp.Location(), "index", next.Index)
			return true
		}
	}
	return false
}

// Callback is the interception entry point for callbacks the live runtime
// fires during replay. It returns the recorded return value, decoded against
// the replay instance. On an OrderViolationError the value is still returned.
func (r *Replayer) Callback(typ, method string, args ...any) (any, error) {
	name := trace.QualifiedName(typ, method)
	rec, err := r.buf.MarkCallbackAsReplayed(name, args)
	if rec == nil {
		return nil, err
	}
	if rec.Ret == nil {
		return codec.Absent, err
	}
	v, derr := r.codec.Decode(*rec.Ret, "")
	if derr != nil {
		return nil, errors.Join(err, derr)
	}
	return v, err
}

// ExpectCallback registers a loose end for a callback of typ that should fire
// after the current step returns
func (r *Replayer) ExpectCallback(typ, method string, hook func(*LooseEnd)) *LooseEnd {
	return r.buf.RegisterLooseEndCallback(trace.QualifiedName(typ, method), hook)
}

// Release is the destruction notification entry point during replay
func (r *Replayer) Release(kind tracker.Kind, obj any, note string) error {
	_, err := r.codec.Guard().Release(kind, obj, note)
	return err
}

// Report summarizes the session
func (r *Replayer) Report() *Report {
	rep := r.buf.Report()
	rep.Session = r.id
	return rep
}
