package homegraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind identifies the type held by a Value.
type ValueKind int

const (
	// KindNull is the absence of a value.
	KindNull ValueKind = iota
	// KindBool holds a boolean.
	KindBool
	// KindInt holds a 64-bit signed integer.
	KindInt
	// KindFloat holds a 64-bit float.
	KindFloat
	// KindString holds a string.
	KindString
	// KindArray holds an ordered list of Values.
	KindArray
	// KindObject holds a string-keyed mapping of Values.
	KindObject
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding one JSON-compatible value.
// Entity content and relationship properties are maps of Values, which keeps
// the wire mapping canonical without leaning on interface{} typing.
// The zero Value is null.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array Value.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object returns an object Value.
func Object(fields map[string]Value) Value { return Value{kind: KindObject, obj: fields} }

// Kind returns the kind of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the boolean payload. Valid only for KindBool.
func (v Value) BoolVal() bool { return v.b }

// IntVal returns the integer payload. Valid only for KindInt.
func (v Value) IntVal() int64 { return v.i }

// FloatVal returns the float payload. Valid only for KindFloat.
func (v Value) FloatVal() float64 { return v.f }

// StringVal returns the string payload. Valid only for KindString.
func (v Value) StringVal() string { return v.s }

// ArrayVal returns the array payload. Valid only for KindArray.
func (v Value) ArrayVal() []Value { return v.arr }

// ObjectVal returns the object payload. Valid only for KindObject.
func (v Value) ObjectVal() map[string]Value { return v.obj }

// Equal reports structural equality between two values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, val := range v.obj {
			ov, ok := other.obj[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes the value in its canonical wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		// Sort keys for deterministic output.
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := json.Marshal(v.obj[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("value: cannot marshal kind %d", v.kind)
}

// UnmarshalJSON decodes the canonical wire form. Integers without a
// fractional part decode as KindInt, everything else numeric as KindFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := valueFromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func valueFromRaw(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: bad number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []interface{}:
		arr := make([]Value, len(t))
		for i, item := range t {
			var err error
			arr[i], err = valueFromRaw(item)
			if err != nil {
				return Value{}, err
			}
		}
		return Value{kind: KindArray, arr: arr}, nil
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			val, err := valueFromRaw(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = val
		}
		return Value{kind: KindObject, obj: obj}, nil
	}
	return Value{}, fmt.Errorf("value: unsupported type %T", raw)
}

// EqualContent reports structural equality between two value maps.
func EqualContent(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}

// CloneContent returns a shallow-copied value map. Values themselves are
// immutable once constructed, so element sharing is safe.
func CloneContent(m map[string]Value) map[string]Value {
	if m == nil {
		return nil
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
