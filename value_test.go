package watchwire

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// valueComparer lets go-cmp compare Values through their unexported fields.
var valueComparer = cmp.Comparer(func(a, b Value) bool { return a.Equal(b) })

func requireValue(t *testing.T, want, got Value, msgAndArgs ...any) {
	t.Helper()

	if !cmp.Equal(want, got, valueComparer) {
		require.Fail(t, "value mismatch\nwant: "+want.String()+"\ngot:  "+got.String(), msgAndArgs...)
	}
}

func TestValue_Accessors(t *testing.T) {
	t.Parallel()

	assert.True(t, Null().IsNull())
	assert.True(t, Value{}.IsNull())

	b, ok := Bool(true).AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = Int(1).AsBool()
	assert.False(t, ok)

	i, ok := Int(-7).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(-7), i)

	f, ok := Real(1.5).AsReal()
	assert.True(t, ok)
	assert.InDelta(t, 1.5, f, 0)

	s, ok := String("a\x00b").AsString()
	assert.True(t, ok)
	assert.Equal(t, "a\x00b", s)

	arr := Array(Int(1), Int(2))
	assert.Equal(t, 2, arr.Len())
	requireValue(t, Int(2), arr.Index(1))
	assert.Panics(t, func() { Int(1).Index(0) })
	assert.Nil(t, Int(1).Items())

	obj := Object(M("a", Int(1)), M("b", Int(2)), M("a", Int(3)))
	assert.Equal(t, []string{"a", "b", "a"}, obj.Keys())

	v, ok := obj.Get("a")
	require.True(t, ok)
	requireValue(t, Int(1), v)

	_, ok = obj.Get("c")
	assert.False(t, ok)

	_, ok = arr.Get("a")
	assert.False(t, ok)
}

func TestValue_Immutable(t *testing.T) {
	t.Parallel()

	items := []Value{Int(1), Int(2)}
	arr := Array(items...)
	items[0] = Int(100)

	requireValue(t, Int(1), arr.Index(0))

	out := arr.Items()
	out[1] = Int(200)

	requireValue(t, Int(2), arr.Index(1))

	obj := Object(M("k", String("v")))
	members := obj.Members()
	members[0].Value = Null()

	v, _ := obj.Get("k")
	requireValue(t, String("v"), v)
}

func TestValue_Equal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"NullNull", Null(), Null(), true},
		{"IntReal", Int(1), Real(1), false},
		{"NegativeZero", Real(0), Real(math.Copysign(0, -1)), false},
		{"NaN", Real(math.NaN()), Real(math.NaN()), true},
		{"Nested", Array(Object(M("a", Strings("x")))), Array(Object(M("a", Strings("x")))), true},
		{"MemberOrder", Object(M("a", Int(1)), M("b", Int(2))), Object(M("b", Int(2)), M("a", Int(1))), false},
		{"Length", Array(Int(1)), Array(Int(1), Int(1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestValue_String(t *testing.T) {
	t.Parallel()

	v := Object(M("name", String("x")), M("n", Array(Int(1), Real(2), Bool(false), Null())))
	assert.Equal(t, `{"name":"x","n":[1,2.0,false,null]}`, v.String())

	assert.Contains(t, Real(math.Inf(1)).String(), "unsupported real value")
}

func TestValue_Any(t *testing.T) {
	t.Parallel()

	v := Object(M("a", Array(Int(1), String("s"), Real(0.5), Null())), M("b", Bool(true)), M("a", Int(9)))

	want := map[string]any{
		"a": []any{int64(1), "s", 0.5, nil},
		"b": true,
	}

	if diff := cmp.Diff(want, v.Any()); diff != "" {
		t.Errorf("Any() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromAny(t *testing.T) {
	t.Parallel()

	v, err := FromAny(map[string]any{
		"z":   uint8(3),
		"a":   []any{nil, "x", 1.25, []byte("raw")},
		"m":   map[string]string{"k": "v"},
		"val": Strings("p", "q"),
	})
	require.NoError(t, err)

	want := Object(
		M("a", Array(Null(), String("x"), Real(1.25), String("raw"))),
		M("m", Object(M("k", String("v")))),
		M("val", Strings("p", "q")),
		M("z", Int(3)),
	)
	requireValue(t, want, v)

	_, err = FromAny(uint64(math.MaxUint64))
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = FromAny(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = FromAny([]any{make(chan int)})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "object", KindObject.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
