package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind classifies UnknownKindError
	ErrUnknownKind = errors.New("unknown object kind")
	// ErrUnresolvedHandle classifies UnresolvedHandleError
	ErrUnresolvedHandle = errors.New("unresolved handle")
	// ErrUseAfterDestroy classifies UseAfterDestroyError
	ErrUseAfterDestroy = errors.New("use after destroy")
	// ErrHandleConflict is returned when a replay binding contradicts an existing one
	ErrHandleConflict = errors.New("handle conflict")
)

// UnknownKindError reports a value whose kind has no tracker. It is a
// programmer error and must never be retried.
type UnknownKindError struct {
	Kind   Kind
	GoType string
}

func (e *UnknownKindError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("unknown object kind for Go type %s", e.GoType)
	}
	return fmt.Sprintf("unknown object kind %q", e.Kind)
}

func (e *UnknownKindError) Is(target error) bool { return target == ErrUnknownKind }

// UnresolvedHandleError reports a handle that has no object in the current
// runtime instance.
type UnresolvedHandleError struct {
	Kind   Kind
	Handle Handle
}

func (e *UnresolvedHandleError) Error() string {
	return fmt.Sprintf("unresolved %s handle %d", e.Kind, e.Handle)
}

func (e *UnresolvedHandleError) Is(target error) bool { return target == ErrUnresolvedHandle }

// UseAfterDestroyError reports access to a released object. Record holds the
// diagnostic captured when the object was released.
type UseAfterDestroyError struct {
	Record DestructionRecord
}

func (e *UseAfterDestroyError) Error() string {
	msg := fmt.Sprintf("use of destroyed %s handle %d (released at seq %d",
		e.Record.Kind, e.Record.Handle, e.Record.Seq)
	if e.Record.Note != "" {
		msg += ": " + e.Record.Note
	}
	return msg + ")"
}

func (e *UseAfterDestroyError) Is(target error) bool { return target == ErrUseAfterDestroy }
