package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/willibrandon/calltrace/pkg/tracker"
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// CBOREncMode returns the canonical encoding mode shared by trace encoders
func CBOREncMode() cbor.EncMode {
	return cborEncMode
}

// CBORDecMode returns the decoding mode shared by trace decoders
func CBORDecMode() cbor.DecMode {
	return cborDecMode
}

// cborTag is the binary wire form. Buffers keep their payload as a raw byte
// string.
type cborTag struct {
	Type   TagType `cbor:"0,keyasint"`
	Value  any     `cbor:"1,keyasint"`
	Kind   string  `cbor:"2,keyasint,omitempty"`
	Handle uint64  `cbor:"3,keyasint,omitempty"`
	Data   []byte  `cbor:"4,keyasint,omitempty"`
	Elem   string  `cbor:"5,keyasint,omitempty"`
	Len    int     `cbor:"6,keyasint,omitempty"`
}

// MarshalCBOR writes the binary wire form of the tag
func (t Tag) MarshalCBOR() ([]byte, error) {
	w := cborTag{Type: t.Type}
	switch t.Type {
	case TagAbsent:
	case TagPrimitive:
		w.Value = t.Value
	case TagRef:
		w.Kind = string(t.Kind)
		w.Handle = uint64(t.Handle)
	case TagBuffer:
		if t.Buf == nil {
			return nil, fmt.Errorf("codec: buffer tag without payload")
		}
		w.Data = t.Buf.Data
		w.Elem = string(t.Buf.Elem)
		w.Len = t.Buf.Len
	default:
		return nil, &UnknownTagError{Type: t.Type}
	}
	return cborEncMode.Marshal(w)
}

// UnmarshalCBOR parses the binary wire form
func (t *Tag) UnmarshalCBOR(data []byte) error {
	var w cborTag
	if err := cborDecMode.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("codec: decode cbor tag: %w", err)
	}
	switch w.Type {
	case TagAbsent:
		*t = AbsentTag()
	case TagPrimitive:
		v, ok := normalize(w.Value)
		if !ok {
			return fmt.Errorf("codec: malformed cbor primitive of type %T", w.Value)
		}
		*t = PrimitiveTag(v)
	case TagRef:
		if w.Kind == "" {
			return fmt.Errorf("codec: ref tag without kind")
		}
		*t = RefTag(tracker.Kind(w.Kind), tracker.Handle(w.Handle))
	case TagBuffer:
		buf := &Buffer{Elem: ElemType(w.Elem), Len: w.Len, Data: w.Data}
		if buf.Data == nil {
			buf.Data = []byte{}
		}
		if err := buf.Validate(); err != nil {
			return err
		}
		*t = BufferTag(buf)
	default:
		return &UnknownTagError{Type: w.Type}
	}
	return nil
}
