package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ElemType is the element type of a typed binary buffer.
type ElemType string

// Supported buffer element types
const (
	Uint8   ElemType = "uint8"
	Int8    ElemType = "int8"
	Uint16  ElemType = "uint16"
	Int16   ElemType = "int16"
	Uint32  ElemType = "uint32"
	Int32   ElemType = "int32"
	Uint64  ElemType = "uint64"
	Int64   ElemType = "int64"
	Float32 ElemType = "float32"
	Float64 ElemType = "float64"
)

// Size returns the width of one element in bytes, or 0 for an unknown type
func (e ElemType) Size() int {
	switch e {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Buffer is a typed binary buffer. Data holds Len little-endian elements of
// type Elem, so replay reproduces the exact byte layout.
type Buffer struct {
	Elem ElemType
	Len  int
	Data []byte
}

// NewBuffer copies a typed numeric slice into a buffer. []byte is a uint8
// buffer.
func NewBuffer(slice any) (*Buffer, error) {
	b, ok := bufferFromSlice(slice)
	if !ok {
		return nil, fmt.Errorf("codec: %T is not a typed numeric slice", slice)
	}
	return b, nil
}

func bufferFromSlice(slice any) (*Buffer, bool) {
	le := binary.LittleEndian
	switch s := slice.(type) {
	case []uint8:
		return &Buffer{Elem: Uint8, Len: len(s), Data: bytes.Clone(s)}, true
	case []int8:
		data := make([]byte, len(s))
		for i, v := range s {
			data[i] = byte(v)
		}
		return &Buffer{Elem: Int8, Len: len(s), Data: data}, true
	case []uint16:
		data := make([]byte, 2*len(s))
		for i, v := range s {
			le.PutUint16(data[2*i:], v)
		}
		return &Buffer{Elem: Uint16, Len: len(s), Data: data}, true
	case []int16:
		data := make([]byte, 2*len(s))
		for i, v := range s {
			le.PutUint16(data[2*i:], uint16(v))
		}
		return &Buffer{Elem: Int16, Len: len(s), Data: data}, true
	case []uint32:
		data := make([]byte, 4*len(s))
		for i, v := range s {
			le.PutUint32(data[4*i:], v)
		}
		return &Buffer{Elem: Uint32, Len: len(s), Data: data}, true
	case []int32:
		data := make([]byte, 4*len(s))
		for i, v := range s {
			le.PutUint32(data[4*i:], uint32(v))
		}
		return &Buffer{Elem: Int32, Len: len(s), Data: data}, true
	case []uint64:
		data := make([]byte, 8*len(s))
		for i, v := range s {
			le.PutUint64(data[8*i:], v)
		}
		return &Buffer{Elem: Uint64, Len: len(s), Data: data}, true
	case []int64:
		data := make([]byte, 8*len(s))
		for i, v := range s {
			le.PutUint64(data[8*i:], uint64(v))
		}
		return &Buffer{Elem: Int64, Len: len(s), Data: data}, true
	case []float32:
		data := make([]byte, 4*len(s))
		for i, v := range s {
			le.PutUint32(data[4*i:], math.Float32bits(v))
		}
		return &Buffer{Elem: Float32, Len: len(s), Data: data}, true
	case []float64:
		data := make([]byte, 8*len(s))
		for i, v := range s {
			le.PutUint64(data[8*i:], math.Float64bits(v))
		}
		return &Buffer{Elem: Float64, Len: len(s), Data: data}, true
	}
	return nil, false
}

// Validate checks that the element type is known and that the payload size
// matches Len.
func (b *Buffer) Validate() error {
	size := b.Elem.Size()
	if size == 0 {
		return fmt.Errorf("codec: unknown buffer element type %q", b.Elem)
	}
	if b.Len < 0 || len(b.Data)%size != 0 || len(b.Data)/size != b.Len {
		return fmt.Errorf("codec: %s buffer of length %d has %d bytes", b.Elem, b.Len, len(b.Data))
	}
	return nil
}

// Slice rebuilds the typed slice the buffer was made from.
func (b *Buffer) Slice() (any, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	d := b.Data
	switch b.Elem {
	case Uint8:
		return bytes.Clone(d), nil
	case Int8:
		out := make([]int8, b.Len)
		for i := range out {
			out[i] = int8(d[i])
		}
		return out, nil
	case Uint16:
		out := make([]uint16, b.Len)
		for i := range out {
			out[i] = le.Uint16(d[2*i:])
		}
		return out, nil
	case Int16:
		out := make([]int16, b.Len)
		for i := range out {
			out[i] = int16(le.Uint16(d[2*i:]))
		}
		return out, nil
	case Uint32:
		out := make([]uint32, b.Len)
		for i := range out {
			out[i] = le.Uint32(d[4*i:])
		}
		return out, nil
	case Int32:
		out := make([]int32, b.Len)
		for i := range out {
			out[i] = int32(le.Uint32(d[4*i:]))
		}
		return out, nil
	case Uint64:
		out := make([]uint64, b.Len)
		for i := range out {
			out[i] = le.Uint64(d[8*i:])
		}
		return out, nil
	case Int64:
		out := make([]int64, b.Len)
		for i := range out {
			out[i] = int64(le.Uint64(d[8*i:]))
		}
		return out, nil
	case Float32:
		out := make([]float32, b.Len)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(d[4*i:]))
		}
		return out, nil
	default: // Float64, Validate rejected everything else
		out := make([]float64, b.Len)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(d[8*i:]))
		}
		return out, nil
	}
}

// Equal reports whether two buffers have the same type, length and bytes
func (b *Buffer) Equal(o *Buffer) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.Elem == o.Elem && b.Len == o.Len && bytes.Equal(b.Data, o.Data)
}

// Clone returns a deep copy of the buffer
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	return &Buffer{Elem: b.Elem, Len: b.Len, Data: bytes.Clone(b.Data)}
}
