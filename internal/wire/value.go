package wire

import "fmt"

// Value is one decoded MessagePack value. The set of implementations is
// closed: Nil, Bool, Int, Float, Str, Bin, Array, Map, and Ext. Anything the
// decoder cannot map onto one of these is rejected, never guessed at.
type Value interface {
	value()
}

// Nil is the MessagePack nil value.
type Nil struct{}

// Bool is a MessagePack boolean.
type Bool bool

// Int covers every MessagePack integer encoding, signed or unsigned.
type Int int64

// Float covers the float32 and float64 encodings.
type Float float64

// Str is a MessagePack string.
type Str string

// Bin is a MessagePack binary blob.
type Bin []byte

// Array is an ordered list of values.
type Array []Value

// Map is an ordered list of key/value pairs. Keys are arbitrary values, not
// necessarily strings, and insertion order is preserved.
type Map []MapEntry

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key Value
	Val Value
}

// Ext is a MessagePack extension value: a small type tag plus raw payload
// bytes. The editor uses tags 0..2 to carry resource handles (see HandleID).
type Ext struct {
	Tag  int8
	Data []byte
}

func (Nil) value()   {}
func (Bool) value()  {}
func (Int) value()   {}
func (Float) value() {}
func (Str) value()   {}
func (Bin) value()   {}
func (Array) value() {}
func (Map) value()   {}
func (Ext) value()   {}

// IsNil reports whether v is absent or the wire nil value.
func IsNil(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Nil)
	return ok
}

// AsInt returns the integer value of v.
func AsInt(v Value) (int64, bool) {
	n, ok := v.(Int)
	return int64(n), ok
}

// AsBool returns the boolean value of v.
func AsBool(v Value) (bool, bool) {
	b, ok := v.(Bool)
	return bool(b), ok
}

// AsString returns the string value of v. Binary blobs are accepted too: the
// editor historically emitted text fields in either encoding.
func AsString(v Value) (string, bool) {
	switch t := v.(type) {
	case Str:
		return string(t), true
	case Bin:
		return string(t), true
	default:
		return "", false
	}
}

// AsArray returns the element list of v.
func AsArray(v Value) ([]Value, bool) {
	arr, ok := v.(Array)
	return arr, ok
}

// AsExt returns the extension value of v.
func AsExt(v Value) (Ext, bool) {
	e, ok := v.(Ext)
	return e, ok
}

// AsStrings converts an array of strings. It fails if any element is not
// string-like.
func AsStrings(v Value) ([]string, bool) {
	arr, ok := v.(Array)
	if !ok {
		return nil, false
	}
	out := make([]string, len(arr))
	for i, el := range arr {
		s, ok := AsString(el)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// ToNative converts v to plain Go types suitable for JSON encoding or
// printing: nil, bool, int64, float64, string, []byte, []any, and
// map[string]any. Map keys are stringified, which loses ordering and
// non-string key types. Ext values that look like resource handles collapse
// to their integer id.
func ToNative(v Value) any {
	switch t := v.(type) {
	case nil, Nil:
		return nil
	case Bool:
		return bool(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case Str:
		return string(t)
	case Bin:
		return append([]byte(nil), t...)
	case Array:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = ToNative(el)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for _, kv := range t {
			out[fmt.Sprint(ToNative(kv.Key))] = ToNative(kv.Val)
		}
		return out
	case Ext:
		if id, ok := HandleID(t); ok {
			return id
		}
		return map[string]any{"ext": int64(t.Tag), "data": append([]byte(nil), t.Data...)}
	default:
		return nil
	}
}
