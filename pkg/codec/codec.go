// Package codec converts live values to tagged, transmissible values and
// back. Objects become references resolved through the trackers of the
// current runtime instance; typed numeric slices become binary buffers.
package codec

import (
	"fmt"

	"github.com/willibrandon/calltrace/pkg/tracker"
)

// Codec encodes and decodes values against one runtime instance.
type Codec struct {
	set   *tracker.Set
	guard *tracker.Guard
}

// New creates a codec over the trackers in set
func New(set *tracker.Set) *Codec {
	return &Codec{set: set, guard: tracker.NewGuard(set)}
}

// Set returns the tracker set the codec resolves against
func (c *Codec) Set() *tracker.Set {
	return c.set
}

// Guard returns the destruction guard over the codec's trackers
func (c *Codec) Guard() *tracker.Guard {
	return c.guard
}

// Encode converts an argument value to a tag. Objects are identified with
// Tracker.IDFor, which allocates a handle the first time an object is seen;
// a released object fails with tracker.UseAfterDestroyError. kindHint may be
// empty when the kind can be inferred from the Go type.
func (c *Codec) Encode(kindHint tracker.Kind, v any) (Tag, error) {
	return c.encode(kindHint, v, false)
}

// EncodeResult converts a return value to a tag. Objects are identified with
// Tracker.Adopt: whatever the runtime hands back is alive.
func (c *Codec) EncodeResult(kindHint tracker.Kind, v any) (Tag, error) {
	return c.encode(kindHint, v, true)
}

func (c *Codec) encode(kindHint tracker.Kind, v any, result bool) (Tag, error) {
	switch x := v.(type) {
	case AbsentValue:
		return AbsentTag(), nil
	case nil:
		return PrimitiveTag(nil), nil
	case *Buffer:
		if err := x.Validate(); err != nil {
			return Tag{}, err
		}
		return BufferTag(x.Clone()), nil
	case Buffer:
		if err := x.Validate(); err != nil {
			return Tag{}, err
		}
		return BufferTag(x.Clone()), nil
	}

	if kindHint != "" {
		if _, ok := c.set.KindOf(v); !ok && IsPrimitive(v) {
			return Tag{}, &KindMismatchError{Want: kindHint, GoType: fmt.Sprintf("%T", v)}
		}
		return c.encodeRef(kindHint, v, result)
	}
	if b, ok := bufferFromSlice(v); ok {
		return BufferTag(b), nil
	}
	if kind, ok := c.set.KindOf(v); ok {
		return c.encodeRef(kind, v, result)
	}
	if p, ok := normalize(v); ok {
		return PrimitiveTag(p), nil
	}
	return Tag{}, &tracker.UnknownKindError{GoType: fmt.Sprintf("%T", v)}
}

func (c *Codec) encodeRef(kind tracker.Kind, v any, result bool) (Tag, error) {
	t, err := c.set.Tracker(kind)
	if err != nil {
		return Tag{}, err
	}
	var h tracker.Handle
	if result {
		h, err = t.Adopt(v)
	} else {
		h, err = t.IDFor(v)
	}
	if err != nil {
		return Tag{}, err
	}
	return RefTag(kind, h), nil
}

// EncodeAll encodes an argument list. kinds, when present, supplies the kind
// hint of the argument at the same index.
func (c *Codec) EncodeAll(kinds []tracker.Kind, args []any) ([]Tag, error) {
	tags := make([]Tag, len(args))
	for i, a := range args {
		var hint tracker.Kind
		if i < len(kinds) {
			hint = kinds[i]
		}
		tag, err := c.Encode(hint, a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		tags[i] = tag
	}
	return tags, nil
}

// Decode converts a tag back to a live value. References resolve against the
// current instance and fail with tracker.UnresolvedHandleError or
// tracker.UseAfterDestroyError. kindHint, when set, must match the tag's kind.
func (c *Codec) Decode(tag Tag, kindHint tracker.Kind) (any, error) {
	switch tag.Type {
	case TagAbsent:
		return Absent, nil
	case TagPrimitive:
		return clonePrimitive(tag.Value), nil
	case TagBuffer:
		if tag.Buf == nil {
			return nil, fmt.Errorf("codec: buffer tag without payload")
		}
		return tag.Buf.Slice()
	case TagRef:
		if kindHint != "" && kindHint != tag.Kind {
			return nil, &KindMismatchError{Want: kindHint, Got: tag.Kind}
		}
		return c.guard.Resolve(tag.Kind, tag.Handle)
	}
	return nil, &UnknownTagError{Type: tag.Type}
}

// DecodeAll decodes an argument list.
func (c *Codec) DecodeAll(tags []Tag) ([]any, error) {
	out := make([]any, len(tags))
	for i, tag := range tags {
		v, err := c.Decode(tag, "")
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Equivalent reports whether a live value matches a decoded one: objects by
// identity, buffers byte for byte, primitives by normalized value.
func Equivalent(live, decoded any) bool {
	if _, ok := live.(AbsentValue); ok {
		_, ok := decoded.(AbsentValue)
		return ok
	}
	if lb, ok := bufferFromSlice(live); ok {
		db, ok := bufferFromSlice(decoded)
		return ok && lb.Equal(db)
	}
	lp, lok := normalize(live)
	dp, dok := normalize(decoded)
	if lok && dok {
		return primitivesEqual(lp, dp)
	}
	if lok != dok {
		return false
	}
	return sameObject(live, decoded)
}

func sameObject(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
