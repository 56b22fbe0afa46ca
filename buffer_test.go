package watchwire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValue() Value {
	return Object(
		M("version", String("2025.1.1")),
		M("clock", String("c:1234:5")),
		M("files", Array(
			Object(M("name", String("src/main.go")), M("size", Int(4096)), M("new", Bool(true))),
			Object(M("name", String("docs/é.md")), M("mtime", Real(1.5)), M("gone", Null())),
		)),
		M("tags", Strings("a", "b}", "{c\"")),
	)
}

var allTypes = []struct {
	typ  PduType
	caps Capability
}{
	{JSONCompact, 0},
	{JSONPretty, 0},
	{BSER, 0},
	{BSERv2, CapCompactInts},
	{BSERv2, CapDisableUnicode},
}

// chunked wraps r so that every read returns at most n bytes.
type chunked struct {
	r io.Reader
	n int
}

func (c *chunked) Read(p []byte) (int, error) {
	return c.r.Read(p[:min(len(p), c.n)])
}

func encodeAll(t *testing.T, typ PduType, caps Capability, vs ...Value) []byte {
	t.Helper()

	var (
		buf Buffer
		out bytes.Buffer
	)

	for _, v := range vs {
		require.NoError(t, buf.EncodeTo(&out, typ, caps, v))
	}

	return out.Bytes()
}

func TestBuffer_RoundTrip(t *testing.T) {
	t.Parallel()

	readers := map[string]func([]byte) io.Reader{
		"Whole":   func(p []byte) io.Reader { return bytes.NewReader(p) },
		"OneByte": func(p []byte) io.Reader { return iotest.OneByteReader(bytes.NewReader(p)) },
		"Three":   func(p []byte) io.Reader { return &chunked{r: bytes.NewReader(p), n: 3} },
		"Half":    func(p []byte) io.Reader { return iotest.HalfReader(bytes.NewReader(p)) },
	}

	for _, tc := range allTypes {
		for name, mk := range readers {
			t.Run(tc.typ.String()+"/"+name, func(t *testing.T) {
				t.Parallel()

				v := sampleValue()
				data := encodeAll(t, tc.typ, tc.caps, v, Strings("second"))

				buf := Buffer{ExpectPretty: tc.typ == JSONPretty}
				r := mk(data)

				got, err := buf.Decode(r)
				require.NoError(t, err)
				requireValue(t, v, got)
				assert.Equal(t, tc.typ, buf.Type())

				if tc.typ == BSERv2 {
					assert.Equal(t, tc.caps, buf.Capabilities())
				}

				got, err = buf.Decode(r)
				require.NoError(t, err)
				requireValue(t, Strings("second"), got)

				_, err = buf.Decode(r)
				require.ErrorIs(t, err, io.EOF)
				assert.Zero(t, buf.Buffered())
			})
		}
	}
}

func TestBuffer_MixedPipeline(t *testing.T) {
	t.Parallel()

	var stream []byte
	stream = append(stream, encodeAll(t, BSERv2, CapCompactInts, Int(1))...)
	stream = append(stream, encodeAll(t, JSONCompact, 0, Int(2))...)
	stream = append(stream, encodeAll(t, BSER, 0, Int(3))...)
	stream = append(stream, encodeAll(t, BSERv2, SupportedCapabilities, Int(4))...)

	var buf Buffer

	r := bytes.NewReader(stream)

	wantTypes := []PduType{BSERv2, JSONCompact, BSER, BSERv2}
	for i, want := range wantTypes {
		got, err := buf.Decode(r)
		require.NoError(t, err)
		requireValue(t, Int(int64(i+1)), got)
		assert.Equal(t, want, buf.Type())
	}

	assert.Equal(t, SupportedCapabilities, buf.Capabilities())
}

func TestBuffer_PrettyStream(t *testing.T) {
	t.Parallel()

	input := "{\n    \"a\": \"}\"\n}\n  [1,\n 2]\r\n\"scalar\"\n\n\n"

	buf := Buffer{ExpectPretty: true}
	r := iotest.OneByteReader(strings.NewReader(input))

	for _, want := range []struct {
		v   Value
		typ PduType
	}{
		{Object(M("a", String("}"))), JSONPretty},
		{Array(Int(1), Int(2)), JSONPretty},
		{String("scalar"), JSONCompact},
	} {
		got, err := buf.Decode(r)
		require.NoError(t, err)
		requireValue(t, want.v, got)
		assert.Equal(t, want.typ, buf.Type(), "single line documents are compact")
	}

	_, err := buf.Decode(r)
	require.ErrorIs(t, err, io.EOF)
	require.NotErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBuffer_PrettyAcceptsCompact(t *testing.T) {
	t.Parallel()

	var input []byte
	input = append(input, encodeAll(t, JSONCompact, 0, Strings("echo", "a"))...)
	input = append(input, encodeAll(t, JSONPretty, 0, Strings("echo", "b"))...)
	input = append(input, encodeAll(t, BSERv2, CapCompactInts, Strings("echo", "c"))...)
	input = append(input, `{"x":[1,2]}`+"\r\n"...)

	buf := Buffer{ExpectPretty: true}
	r := iotest.OneByteReader(bytes.NewReader(input))

	for _, want := range []struct {
		v   Value
		typ PduType
	}{
		{Strings("echo", "a"), JSONCompact},
		{Strings("echo", "b"), JSONPretty},
		{Strings("echo", "c"), BSERv2},
		{Object(M("x", Array(Int(1), Int(2)))), JSONCompact},
	} {
		got, err := buf.Decode(r)
		require.NoError(t, err)
		requireValue(t, want.v, got)
		assert.Equal(t, want.typ, buf.Type())
	}

	_, err := buf.Decode(r)
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, buf.Buffered())
}

func TestBuffer_EOF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  []byte
		pretty bool
		want   error
	}{
		{"Empty", nil, false, io.EOF},
		{"OneByte", []byte{0x00}, false, io.ErrUnexpectedEOF},
		{"PartialLine", []byte(`{"a":1}`), false, io.ErrUnexpectedEOF},
		{"PartialPretty", []byte("{\n  \"a\": 1\n"), true, io.ErrUnexpectedEOF},
		{"PartialBSERHeader", []byte{0x00, 0x02, 0x04, 0x00}, false, io.ErrUnexpectedEOF},
		{"PartialBSERBody", []byte{0x00, 0x01, 0x03, 0x08, 0x00, 0x03, 0x02}, false, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := Buffer{ExpectPretty: tt.pretty}

			_, err := buf.Decode(bytes.NewReader(tt.input))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

type zeroReader struct{}

func (zeroReader) Read([]byte) (int, error) { return 0, nil }

func TestBuffer_ReaderErrors(t *testing.T) {
	t.Parallel()

	t.Run("ZeroReadIsEOF", func(t *testing.T) {
		t.Parallel()

		var buf Buffer

		_, err := buf.Decode(zeroReader{})
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("TransportError", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("connection reset")

		var buf Buffer

		_, err := buf.Decode(io.MultiReader(strings.NewReader(`{"a"`), iotest.ErrReader(boom)))
		require.ErrorIs(t, err, boom)

		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "read", te.Op)
		assert.Equal(t, 4, buf.Buffered(), "partial data is kept")
	})
}

func TestBuffer_Limit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  []byte
		pretty bool
	}{
		{"CompactComplete", []byte(`["0123456789abcdef"]` + "\n"), false},
		{"CompactEndless", []byte(strings.Repeat("x", 100)), false},
		{"Pretty", []byte("{\n    \"k\": \"0123456789abcdef\"\n}\n"), true},
		{"BSERDeclared", []byte{0x00, 0x01, 0x04, 0x00, 0x10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := Buffer{ExpectPretty: tt.pretty}
			buf.SetLimit(16)

			_, err := buf.Decode(bytes.NewReader(tt.input))
			require.ErrorIs(t, err, ErrPduTooLarge)
			require.ErrorIs(t, err, ErrDecoding)
		})
	}

	t.Run("DefaultRestored", func(t *testing.T) {
		t.Parallel()

		var buf Buffer

		buf.SetLimit(1)
		buf.SetLimit(0)
		assert.Equal(t, int64(DefaultReadLimit), buf.readLimit())

		_, err := buf.Decode(strings.NewReader("[1,2,3]\n"))
		require.NoError(t, err)
	})
}

func TestBuffer_ParseErrorKeepsCursor(t *testing.T) {
	t.Parallel()

	var buf Buffer

	input := "{bad json}\n[1]\n"
	r := strings.NewReader(input)

	_, err := buf.Decode(r)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, JSONCompact, pe.Type)
	assert.Equal(t, len(input), buf.Buffered(), "nothing was consumed")

	_, err = buf.Decode(r)
	require.ErrorAs(t, err, &pe, "the same PDU fails again")
}

func TestBuffer_ClearAndReuse(t *testing.T) {
	t.Parallel()

	var buf Buffer

	_, err := buf.Decode(strings.NewReader("[1]\n[2]\n"))
	require.NoError(t, err)
	assert.Positive(t, buf.Buffered())

	buf.Clear()
	assert.Zero(t, buf.Buffered())
	assert.Equal(t, NeedData, buf.Type())

	var out bytes.Buffer
	require.NoError(t, buf.EncodeTo(&out, BSERv2, CapCompactInts, Int(7)))

	got, err := buf.Decode(&out)
	require.NoError(t, err)
	requireValue(t, Int(7), got)
	assert.Equal(t, BSERv2, buf.Type())
}

func TestBuffer_EncodeToUnknown(t *testing.T) {
	t.Parallel()

	var buf Buffer

	err := buf.EncodeTo(&bytes.Buffer{}, NeedData, 0, Null())
	require.ErrorIs(t, err, ErrEncoding)
}

func TestBuffer_EncodeWriteError(t *testing.T) {
	t.Parallel()

	var buf Buffer

	err := buf.EncodeTo(&failWriter{after: 2}, JSONCompact, 0, Strings("a", "b"))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "write", te.Op)
}
