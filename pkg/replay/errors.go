package replay

import (
	"errors"
	"fmt"

	"github.com/willibrandon/calltrace/pkg/codec"
)

// ErrDivergence classifies every error that reports the live runtime
// departing from the recording. Divergences degrade a session but do not
// stop it unless HaltOnDivergence is set.
var ErrDivergence = errors.New("replay divergence")

// UnexpectedCallbackError is raised when a live callback matches no
// unconsumed recorded callback.
type UnexpectedCallbackError struct {
	Name string
	Args []any
}

func (e *UnexpectedCallbackError) Error() string {
	return fmt.Sprintf("replay: unexpected callback %s with %d argument(s)", e.Name, len(e.Args))
}

func (e *UnexpectedCallbackError) Is(target error) bool { return target == ErrDivergence }

// OrderViolationError is raised when a live callback matches a recorded one
// that is not the earliest pending callback of that method. The matched
// entry is consumed anyway.
type OrderViolationError struct {
	Name     string
	Matched  int
	Expected int
}

func (e *OrderViolationError) Error() string {
	return fmt.Sprintf("replay: callback %s matched recorded entry %d, expected entry %d first", e.Name, e.Matched, e.Expected)
}

func (e *OrderViolationError) Is(target error) bool { return target == ErrDivergence }

// StepError reports a step that could not be replayed. The step is skipped
// and replay continues with the next one.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("replay: step %d (%s seq %d) skipped: %v", e.Step.Index, e.Step.Name, e.Step.Record.Seq, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool { return target == ErrDivergence }

// ReturnMismatchError reports a live return value that differs from the
// recorded one.
type ReturnMismatchError struct {
	Step Step
	Want codec.Tag
	Got  any
	Err  error
}

func (e *ReturnMismatchError) Error() string {
	msg := fmt.Sprintf("replay: step %d (%s) returned %v, recorded %s", e.Step.Index, e.Step.Name, e.Got, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReturnMismatchError) Unwrap() error { return e.Err }

func (e *ReturnMismatchError) Is(target error) bool { return target == ErrDivergence }
