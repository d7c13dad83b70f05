package instrumentation

import (
	"sync"

	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/trace"
	"github.com/willibrandon/calltrace/pkg/tracker"
)

var (
	defaultMu          sync.RWMutex
	defaultInterceptor *Interceptor
)

// SetDefault sets the interceptor used by the package level hooks
func SetDefault(i *Interceptor) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultInterceptor = i
}

// Default returns the interceptor set with SetDefault, or nil
func Default() *Interceptor {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultInterceptor
}

// Interceptor sits between the bindings and the runtime. Every call that
// crosses the boundary passes through it, which gives the recorder a chance
// to capture the arguments before the runtime runs and the return value after.
type Interceptor struct {
	rec  *recorder.CallRecorder
	opts Options
}

// NewInterceptor creates an interceptor with default options
func NewInterceptor(rec *recorder.CallRecorder) *Interceptor {
	return NewInterceptorWithOptions(rec, DefaultOptions())
}

// NewInterceptorWithOptions creates an interceptor with custom options
func NewInterceptorWithOptions(rec *recorder.CallRecorder, opts Options) *Interceptor {
	return &Interceptor{rec: rec, opts: opts}
}

// Recorder returns the underlying recorder
func (i *Interceptor) Recorder() *recorder.CallRecorder {
	return i.rec
}

// Options returns the selection options
func (i *Interceptor) Options() Options {
	return i.opts
}

// Call records a host to runtime call around invoke. If the arguments cannot
// be captured, for instance because one refers to a destroyed object, invoke
// is not run and the error is returned.
func (i *Interceptor) Call(typ, method string, args []any, invoke func() (any, error)) (any, error) {
	return i.intercept(trace.Call, typ, method, args, invoke, false)
}

// CallVoid is Call for methods that return nothing
func (i *Interceptor) CallVoid(typ, method string, args []any, invoke func() error) error {
	_, err := i.intercept(trace.Call, typ, method, args, func() (any, error) {
		return nil, invoke()
	}, true)
	return err
}

// Callback records a runtime to host callback around handler
func (i *Interceptor) Callback(typ, method string, args []any, handler func() (any, error)) (any, error) {
	return i.intercept(trace.Callback, typ, method, args, handler, false)
}

func (i *Interceptor) intercept(dir trace.Direction, typ, method string, args []any, fn func() (any, error), void bool) (any, error) {
	if !i.opts.ShouldInstrument(typ, method) {
		return fn()
	}

	p, err := i.rec.Begin(dir, typ, method, args...)
	if err != nil {
		return nil, err
	}

	// A failed call has no return value
	ret, err := fn()
	if err != nil || void {
		if derr := p.Done(); derr != nil && err == nil {
			return ret, derr
		}
		return ret, err
	}
	if rerr := p.Return(ret); rerr != nil {
		return ret, rerr
	}
	return ret, nil
}

// Destroyed forwards a destruction notification from the runtime. It must
// be called synchronously from the runtime's destruction hook.
func (i *Interceptor) Destroyed(kind tracker.Kind, obj any, note string) error {
	return i.rec.Release(kind, obj, note)
}

// Invoke runs a typed call through the interceptor
func Invoke[T any](i *Interceptor, typ, method string, args []any, invoke func() (T, error)) (T, error) {
	var zero T
	ret, err := i.Call(typ, method, args, func() (any, error) {
		v, err := invoke()
		return v, err
	})
	if ret == nil {
		return zero, err
	}
	v, ok := ret.(T)
	if !ok {
		return zero, err
	}
	return v, err
}

// Destroyed forwards a destruction notification to the default interceptor
func Destroyed(kind tracker.Kind, obj any, note string) error {
	i := Default()
	if i == nil {
		return nil
	}
	return i.Destroyed(kind, obj, note)
}
