package replay

import (
	"context"
	"sort"

	"github.com/willibrandon/calltrace/pkg/codec"
	"github.com/willibrandon/calltrace/pkg/trace"
	"github.com/willibrandon/calltrace/pkg/tracker"
)

// Placeholder stands in for a runtime object during a dry run
type Placeholder struct {
	Kind   tracker.Kind
	Handle tracker.Handle
}

type scheduledCallback struct {
	typ, method string
	rec         trace.CallRecord
}

// dryRuntime answers every call with its recorded return value and fires the
// recorded callbacks that fall between the call and the next one.
type dryRuntime struct {
	r         *Replayer
	callbacks []scheduledCallback
	next      int
}

// NewDryRun creates a session over tr driven by a simulated runtime that
// answers every call with its recorded return value. Objects that no
// recorded call returns are treated as roots and bound up front.
func NewDryRun(tr *trace.Trace, opts ...Option) (*Replayer, error) {
	set := tracker.NewSet()
	for _, kind := range kindsOf(tr) {
		set.Register(kind)
	}

	rt := &dryRuntime{callbacks: schedule(tr)}
	r := NewReplayer(tr, rt, set, opts...)
	rt.r = r

	for _, root := range roots(tr) {
		if err := r.Bind(root.Kind, root.Handle, &Placeholder{Kind: root.Kind, Handle: root.Handle}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DryRun replays all of tr against a simulated runtime. The report shows
// whether the trace is self-consistent: handles are created before they are
// used and callbacks arrive in the order they were recorded.
func DryRun(ctx context.Context, tr *trace.Trace, opts ...Option) (*Report, error) {
	r, err := NewDryRun(tr, opts...)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

func (d *dryRuntime) Invoke(ctx context.Context, call Call) (any, error) {
	step, _ := d.r.buf.Current()

	ret, err := d.result(step)
	if err != nil {
		return nil, err
	}

	limit := ^uint64(0)
	if next, ok := d.r.buf.Peek(); ok {
		limit = next.Record.Seq
	}
	for d.next < len(d.callbacks) && d.callbacks[d.next].rec.Seq < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.fire(d.callbacks[d.next])
		d.next++
	}
	return ret, nil
}

// result builds the recorded return value. A returned object is bound right
// away so callbacks fired during the call can refer to it.
func (d *dryRuntime) result(step Step) (any, error) {
	want := step.Record.Ret
	if want == nil || want.Type == codec.TagAbsent {
		return codec.Absent, nil
	}
	if want.Type != codec.TagRef {
		return d.r.codec.Decode(*want, "")
	}
	t, err := d.r.set.Tracker(want.Kind)
	if err != nil {
		return nil, err
	}
	if obj := t.ObjectFor(want.Handle); obj != nil && obj != tracker.Dead {
		return obj, nil
	}
	p := &Placeholder{Kind: want.Kind, Handle: want.Handle}
	if err := t.Bind(want.Handle, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *dryRuntime) fire(cb scheduledCallback) {
	args, err := d.r.codec.DecodeAll(cb.rec.Args)
	if err != nil {
		// left unconsumed; shows up in the report
		d.r.log.Warn("dry run: cannot fire callback", "method", trace.QualifiedName(cb.typ, cb.method), "seq", cb.rec.Seq, "error", err)
		return
	}
	if _, err := d.r.Callback(cb.typ, cb.method, args...); err != nil {
		d.r.log.Debug("dry run: callback diverged", "method", trace.QualifiedName(cb.typ, cb.method), "error", err)
	}
}

func schedule(tr *trace.Trace) []scheduledCallback {
	var out []scheduledCallback
	for _, name := range tr.Methods(trace.Callback) {
		typ, method := trace.SplitName(name)
		for _, rec := range tr.Callbacks[name] {
			out = append(out, scheduledCallback{typ: typ, method: method, rec: rec})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rec.Seq < out[j].rec.Seq })
	return out
}

type ref struct {
	Kind   tracker.Kind
	Handle tracker.Handle
}

func kindsOf(tr *trace.Trace) []tracker.Kind {
	seen := make(map[tracker.Kind]bool)
	visitRefs(tr, func(r ref) { seen[r.Kind] = true })
	out := make([]tracker.Kind, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// roots returns the referenced objects no call returns
func roots(tr *trace.Trace) []ref {
	created := make(map[ref]bool)
	for _, m := range tr.Calls {
		for _, rec := range m {
			if rec.Ret != nil && rec.Ret.IsRef() {
				created[ref{rec.Ret.Kind, rec.Ret.Handle}] = true
			}
		}
	}
	seen := make(map[ref]bool)
	var out []ref
	visitRefs(tr, func(r ref) {
		if created[r] || seen[r] {
			return
		}
		seen[r] = true
		out = append(out, r)
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

func visitRefs(tr *trace.Trace, fn func(r ref)) {
	visit := func(streams map[string]trace.MethodTrace) {
		for _, m := range streams {
			for _, rec := range m {
				for _, tag := range rec.Args {
					if tag.IsRef() {
						fn(ref{tag.Kind, tag.Handle})
					}
				}
				if rec.Ret != nil && rec.Ret.IsRef() {
					fn(ref{rec.Ret.Kind, rec.Ret.Handle})
				}
			}
		}
	}
	visit(tr.Calls)
	visit(tr.Callbacks)
}
