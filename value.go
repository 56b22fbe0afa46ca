package watchwire

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
)

// ErrUnsupportedType is returned by [FromAny] when it meets a Go type that has no [Value] form.
var ErrUnsupportedType = errors.New("watchwire: unsupported type for Value")

// Kind identifies which member of the [Value] union is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Member is a single key/value pair of an object [Value].
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable structured value: null, bool, 64-bit integer, double,
// byte string, ordered array or ordered object.
//
// Values are what every PDU decodes to and encodes from. Constructors copy the
// slices they are given and accessors return copies, so a Value may be freely
// shared between the decoder, the encoder and application code.
//
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  []Member
}

// Null returns the null [Value].
func Null() Value { return Value{} }

// Bool returns a boolean [Value].
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer [Value].
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Real returns a floating point [Value].
func Real(f float64) Value { return Value{kind: KindReal, f: f} }

// String returns a string [Value]. s is treated as a byte string and may hold
// NUL bytes or invalid UTF-8.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array [Value] holding a copy of items.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: slices.Clone(items)}
}

// Object returns an object [Value] holding a copy of members in the given order.
//
// Duplicate keys are kept as given; [Value.Get] returns the first match.
func Object(members ...Member) Value {
	return Value{kind: KindObject, obj: slices.Clone(members)}
}

// M is shorthand for constructing a [Member].
func M(key string, v Value) Member {
	return Member{Key: key, Value: v}
}

// Strings returns an array [Value] of string values.
func Strings(s ...string) Value {
	arr := make([]Value, len(s))
	for i, str := range s {
		arr[i] = String(str)
	}

	return Value{kind: KindArray, arr: arr}
}

// array and object build container values without copying; used by decoders
// that own the freshly built slice.
func array(items []Value) Value { return Value{kind: KindArray, arr: items} }

func object(members []Member) Value { return Value{kind: KindObject, obj: members} }

// Kind reports the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsReal returns the double held by v.
func (v Value) AsReal() (float64, bool) { return v.f, v.kind == KindReal }

// AsString returns the byte string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Len returns the number of elements of an array or members of an object, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	}

	return 0
}

// Index returns element i of an array value. It panics if v is not an array
// or i is out of range, like a slice index would.
func (v Value) Index(i int) Value {
	if v.kind != KindArray {
		panic("watchwire: Index on " + v.kind.String() + " value")
	}

	return v.arr[i]
}

// Items returns a copy of the elements of an array value, or nil.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}

	return slices.Clone(v.arr)
}

// Members returns a copy of the members of an object value, or nil.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}

	return slices.Clone(v.obj)
}

// Keys returns the keys of an object value in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}

	keys := make([]string, len(v.obj))
	for i := range v.obj {
		keys[i] = v.obj[i].Key
	}

	return keys
}

// Get returns the value stored under key in an object value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}

	for i := range v.obj {
		if v.obj[i].Key == key {
			return v.obj[i].Value, true
		}
	}

	return Value{}, false
}

// Equal reports whether v and o are structurally identical.
//
// Reals are compared bit for bit, so -0.0 and 0.0 differ. Object members must
// appear in the same order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindReal:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindString:
		return v.s == o.s
	case KindArray:
		return slices.EqualFunc(v.arr, o.arr, Value.Equal)
	case KindObject:
		return slices.EqualFunc(v.obj, o.obj, func(a, b Member) bool {
			return a.Key == b.Key && a.Value.Equal(b.Value)
		})
	}

	return false
}

// String renders v as compact JSON for diagnostics. Encoding failures (NaN or
// infinite reals) are rendered inline rather than reported.
func (v Value) String() string {
	out, err := appendJSON(nil, v, false, 0)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}

	return string(out)
}

// Any converts v into a plain Go tree: nil, bool, int64, float64, string,
// []any and map[string]any. Object member order is lost.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindReal:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i := range v.arr {
			out[i] = v.arr[i].Any()
		}

		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for i := range v.obj {
			if _, dup := out[v.obj[i].Key]; !dup {
				out[v.obj[i].Key] = v.obj[i].Value.Any()
			}
		}

		return out
	}

	return nil
}

// FromAny converts a plain Go tree into a [Value].
//
// Supported types are nil, bool, all integer and float kinds, string, []byte,
// [Value], []any, []string, []Value, map[string]any and map[string]string.
// Map keys are sorted so the resulting object is deterministic.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, t)
		}

		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, t)
		}

		return Int(int64(t)), nil
	case float32:
		return Real(float64(t)), nil
	case float64:
		return Real(t), nil
	case string:
		return String(t), nil
	case []byte:
		return String(string(t)), nil
	case []string:
		return Strings(t...), nil
	case []Value:
		return Array(t...), nil
	case []any:
		arr := make([]Value, len(t))

		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}

			arr[i] = ev
		}

		return array(arr), nil
	case map[string]string:
		keys := sortedKeys(t)
		members := make([]Member, len(keys))

		for i, k := range keys {
			members[i] = Member{Key: k, Value: String(t[k])}
		}

		return object(members), nil
	case map[string]any:
		keys := sortedKeys(t)
		members := make([]Member, len(keys))

		for i, k := range keys {
			ev, err := FromAny(t[k])
			if err != nil {
				return Value{}, err
			}

			members[i] = Member{Key: k, Value: ev}
		}

		return object(members), nil
	}

	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
