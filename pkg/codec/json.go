package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/willibrandon/calltrace/pkg/tracker"
)

type jsonRef struct {
	Ref  tracker.Handle `json:"ref"`
	Kind tracker.Kind   `json:"kind"`
}

type jsonBuffer struct {
	Buffer string   `json:"buffer"`
	Type   ElemType `json:"type"`
	Length int      `json:"length"`
}

type jsonAbsent struct {
	Absent bool `json:"absent"`
}

type jsonMap struct {
	Map map[string]any `json:"map"`
}

// MarshalJSON writes the wire form of the tag: native JSON for primitives,
// {"ref", "kind"} for references, {"buffer", "type", "length"} for buffers and
// {"absent": true} for absent values. A top-level primitive object is wrapped
// as {"map": {...}} so it cannot be mistaken for a tag object.
func (t Tag) MarshalJSON() ([]byte, error) {
	switch t.Type {
	case TagAbsent:
		return json.Marshal(jsonAbsent{Absent: true})
	case TagPrimitive:
		if m, ok := t.Value.(map[string]any); ok {
			return json.Marshal(jsonMap{Map: m})
		}
		return json.Marshal(t.Value)
	case TagRef:
		return json.Marshal(jsonRef{Ref: t.Handle, Kind: t.Kind})
	case TagBuffer:
		if t.Buf == nil {
			return nil, fmt.Errorf("codec: buffer tag without payload")
		}
		return json.Marshal(jsonBuffer{
			Buffer: base64.StdEncoding.EncodeToString(t.Buf.Data),
			Type:   t.Buf.Elem,
			Length: t.Buf.Len,
		})
	}
	return nil, &UnknownTagError{Type: t.Type}
}

// UnmarshalJSON parses the wire form written by MarshalJSON. Objects that do
// not have exactly the keys of one tag form fail with UnknownTagError.
func (t *Tag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("codec: empty tag")
	}
	if data[0] != '{' {
		v, err := decodeJSONPrimitive(data)
		if err != nil {
			return err
		}
		*t = PrimitiveTag(v)
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("codec: decode tag: %w", err)
	}

	switch {
	case hasExactly(fields, "ref", "kind"):
		var r jsonRef
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("codec: decode ref tag: %w", err)
		}
		if r.Kind == "" {
			return fmt.Errorf("codec: ref tag without kind")
		}
		*t = RefTag(r.Kind, r.Ref)
	case hasExactly(fields, "buffer", "type", "length"):
		var b jsonBuffer
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("codec: decode buffer tag: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(b.Buffer)
		if err != nil {
			return fmt.Errorf("codec: decode buffer payload: %w", err)
		}
		buf := &Buffer{Elem: b.Type, Len: b.Length, Data: raw}
		if err := buf.Validate(); err != nil {
			return err
		}
		*t = BufferTag(buf)
	case hasExactly(fields, "absent"):
		var a jsonAbsent
		if err := json.Unmarshal(data, &a); err != nil || !a.Absent {
			return fmt.Errorf("codec: malformed absent tag")
		}
		*t = AbsentTag()
	case hasExactly(fields, "map"):
		v, err := decodeJSONPrimitive(fields["map"])
		if err != nil {
			return err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("codec: map tag does not hold an object")
		}
		*t = PrimitiveTag(m)
	default:
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &UnknownTagError{Keys: keys}
	}
	return nil
}

func decodeJSONPrimitive(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("codec: decode primitive: %w", err)
	}
	n, ok := normalize(v)
	if !ok {
		return nil, fmt.Errorf("codec: malformed primitive %s", data)
	}
	return n, nil
}

func hasExactly(fields map[string]json.RawMessage, keys ...string) bool {
	if len(fields) != len(keys) {
		return false
	}
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}
