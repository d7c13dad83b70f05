package tracker

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// DestructionRecord is the diagnostic attached to a handle when its object is
// released. It is captured once and never cleared.
type DestructionRecord struct {
	Kind   Kind
	Handle Handle
	// Note is the caller supplied context, e.g. the intercepted method name
	Note string
	// Stack is the formatted call stack at release time
	Stack string
	// Seq is the recorder sequence number current at release time
	Seq  uint64
	Time time.Time
}

// String returns a human-readable representation of the record
func (r DestructionRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s#%d released at seq %d (%s)", r.Kind, r.Handle, r.Seq, r.Time.Format(time.RFC3339Nano))
	if r.Note != "" {
		fmt.Fprintf(&b, ": %s", r.Note)
	}
	if r.Stack != "" {
		b.WriteString("\n")
		b.WriteString(r.Stack)
	}
	return b.String()
}

// StackFunc captures the stack used in destruction diagnostics.
type StackFunc func() string

// CallerStack formats the stack of the goroutine that released the object,
// skipping the frames that belong to this package.
func CallerStack() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		if !isTrackerFrame(frame.Function) {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

func isTrackerFrame(function string) bool {
	const pkg = "calltrace/pkg/tracker."
	i := strings.Index(function, pkg)
	if i < 0 {
		return false
	}
	// test functions live in the same package but are the interesting frames
	return !strings.Contains(function[i+len(pkg):], "Test")
}
