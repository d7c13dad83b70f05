package codec

import (
	"encoding/json"
	"math"
	"reflect"
)

// normalize converts v to the canonical primitive representation. It reports
// false if v, or anything nested in it, is not a primitive.
func normalize(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case bool, string, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint:
		return normalizeUint(uint64(x)), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return normalizeUint(x), true
	case float32:
		return float64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, ok := normalize(e)
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, ok := normalize(e)
			if !ok {
				return nil, false
			}
			out[k] = n
		}
		return out, true
	}
	return normalizeReflect(reflect.ValueOf(v))
}

// IsPrimitive reports whether v is carried by value: a primitive, a typed
// buffer or the absent value. Such values never stand for a tracked object.
func IsPrimitive(v any) bool {
	switch v.(type) {
	case AbsentValue, *Buffer, Buffer:
		return true
	}
	if _, ok := bufferFromSlice(v); ok {
		return true
	}
	_, ok := normalize(v)
	return ok
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// normalizeReflect handles named primitive types and slices or maps of them.
func normalizeReflect(rv reflect.Value) (any, bool) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.String:
		return rv.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, true
		}
		out := make([]any, rv.Len())
		for i := range out {
			n, ok := normalize(rv.Index(i).Interface())
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, ok := normalize(iter.Value().Interface())
			if !ok {
				return nil, false
			}
			out[iter.Key().String()] = n
		}
		return out, true
	}
	return nil, false
}

// numeric widens an integer or float primitive for cross-type comparison.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// primitivesEqual compares two normalized primitives, treating numbers by
// value so 3 and 3.0 are the same after a JSON round trip.
func primitivesEqual(a, b any) bool {
	if fa, ok := numeric(a); ok {
		fb, ok := numeric(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !primitivesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !primitivesEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	return a == b
}
