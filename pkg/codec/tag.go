package codec

import (
	"fmt"
	"reflect"

	"github.com/willibrandon/calltrace/pkg/tracker"
)

// TagType discriminates the Tag union.
type TagType uint8

const (
	// TagAbsent is "no value": a void return or an omitted argument
	TagAbsent TagType = iota
	// TagPrimitive is a value passed through verbatim
	TagPrimitive
	// TagRef is a reference to a tracked object
	TagRef
	// TagBuffer is a typed binary buffer
	TagBuffer
)

// String returns the string representation of the TagType
func (t TagType) String() string {
	switch t {
	case TagAbsent:
		return "absent"
	case TagPrimitive:
		return "primitive"
	case TagRef:
		return "ref"
	case TagBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("TagType(%d)", uint8(t))
	}
}

// AbsentValue is the Go value of an absent tag.
type AbsentValue struct{}

// Absent is the value decoded from, and encoded to, an absent tag.
var Absent = AbsentValue{}

// Tag is the tagged representation of one recorded argument or return value.
// Exactly one of the payload fields is meaningful, selected by Type.
type Tag struct {
	Type TagType
	// Value holds a normalized primitive: nil, bool, string, int64, uint64,
	// float64, []any or map[string]any of those.
	Value  any
	Kind   tracker.Kind
	Handle tracker.Handle
	Buf    *Buffer
}

// AbsentTag returns an absent tag
func AbsentTag() Tag {
	return Tag{Type: TagAbsent}
}

// PrimitiveTag wraps an already normalized primitive
func PrimitiveTag(v any) Tag {
	return Tag{Type: TagPrimitive, Value: v}
}

// RefTag returns a reference tag
func RefTag(kind tracker.Kind, h tracker.Handle) Tag {
	return Tag{Type: TagRef, Kind: kind, Handle: h}
}

// BufferTag returns a buffer tag
func BufferTag(b *Buffer) Tag {
	return Tag{Type: TagBuffer, Buf: b}
}

// IsRef reports whether t references a tracked object
func (t Tag) IsRef() bool {
	return t.Type == TagRef
}

// Equal reports whether two tags are identical
func (t Tag) Equal(o Tag) bool {
	if t.Type != o.Type {
		return false
	}
	switch t.Type {
	case TagAbsent:
		return true
	case TagPrimitive:
		return reflect.DeepEqual(t.Value, o.Value)
	case TagRef:
		return t.Kind == o.Kind && t.Handle == o.Handle
	case TagBuffer:
		return t.Buf.Equal(o.Buf)
	}
	return false
}

// Clone returns a deep copy of t
func (t Tag) Clone() Tag {
	c := t
	if t.Buf != nil {
		c.Buf = t.Buf.Clone()
	}
	if t.Type == TagPrimitive {
		c.Value = clonePrimitive(t.Value)
	}
	return c
}

func (t Tag) String() string {
	switch t.Type {
	case TagAbsent:
		return "<absent>"
	case TagPrimitive:
		return fmt.Sprintf("%v", t.Value)
	case TagRef:
		return fmt.Sprintf("%s#%d", t.Kind, t.Handle)
	case TagBuffer:
		if t.Buf == nil {
			return "<nil buffer>"
		}
		return fmt.Sprintf("%s[%d]", t.Buf.Elem, t.Buf.Len)
	}
	return t.Type.String()
}

func clonePrimitive(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = clonePrimitive(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = clonePrimitive(e)
		}
		return out
	}
	return v
}
