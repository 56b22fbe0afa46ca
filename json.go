package watchwire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxNestingDepth bounds how deeply arrays and objects may nest in a decoded PDU.
const maxNestingDepth = 10000

const prettyIndent = "    "

const hexDigits = "0123456789abcdef"

// appendJSON appends the JSON text of v to dst. Pretty output is indented with
// four spaces per level; compact output has no whitespace at all.
func appendJSON(dst []byte, v Value, pretty bool, depth int) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...), nil
	case KindBool:
		return strconv.AppendBool(dst, v.b), nil
	case KindInt:
		return strconv.AppendInt(dst, v.i, 10), nil
	case KindReal:
		return appendJSONReal(dst, v.f, pretty)
	case KindString:
		return appendJSONString(dst, v.s), nil
	case KindArray:
		if len(v.arr) == 0 {
			return append(dst, "[]"...), nil
		}

		dst = append(dst, '[')

		for i := range v.arr {
			if i > 0 {
				dst = append(dst, ',')
			}

			dst = appendNewline(dst, pretty, depth+1)

			var err error
			if dst, err = appendJSON(dst, v.arr[i], pretty, depth+1); err != nil {
				return nil, err
			}
		}

		dst = appendNewline(dst, pretty, depth)

		return append(dst, ']'), nil
	case KindObject:
		if len(v.obj) == 0 {
			return append(dst, "{}"...), nil
		}

		dst = append(dst, '{')

		for i := range v.obj {
			if i > 0 {
				dst = append(dst, ',')
			}

			dst = appendNewline(dst, pretty, depth+1)
			dst = appendJSONString(dst, v.obj[i].Key)
			dst = append(dst, ':')

			if pretty {
				dst = append(dst, ' ')
			}

			var err error
			if dst, err = appendJSON(dst, v.obj[i].Value, pretty, depth+1); err != nil {
				return nil, err
			}
		}

		dst = appendNewline(dst, pretty, depth)

		return append(dst, '}'), nil
	}

	return nil, &EncodeError{Type: jsonType(pretty), Msg: "unknown value kind " + v.kind.String()}
}

func jsonType(pretty bool) PduType {
	if pretty {
		return JSONPretty
	}

	return JSONCompact
}

func appendNewline(dst []byte, pretty bool, depth int) []byte {
	if !pretty {
		return dst
	}

	dst = append(dst, '\n')

	for range depth {
		dst = append(dst, prettyIndent...)
	}

	return dst
}

// appendJSONReal always emits a decimal point or an exponent so that the value
// reads back as a real and not an integer; -0.0 survives the trip.
func appendJSONReal(dst []byte, f float64, pretty bool) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &EncodeError{Type: jsonType(pretty), Msg: "unsupported real value " + strconv.FormatFloat(f, 'g', -1, 64)}
	}

	start := len(dst)
	dst = strconv.AppendFloat(dst, f, 'g', -1, 64)

	if !bytes.ContainsAny(dst[start:], ".eE") {
		dst = append(dst, ".0"...)
	}

	return dst, nil
}

// appendJSONString quotes s. Invalid UTF-8 is replaced with U+FFFD, as
// encoding/json does.
func appendJSONString(dst []byte, s string) []byte {
	dst = append(dst, '"')

	for i := 0; i < len(s); {
		c := s[i]

		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				dst = append(dst, '\\', c)
			case c == '\n':
				dst = append(dst, '\\', 'n')
			case c == '\r':
				dst = append(dst, '\\', 'r')
			case c == '\t':
				dst = append(dst, '\\', 't')
			case c == '\b':
				dst = append(dst, '\\', 'b')
			case c == '\f':
				dst = append(dst, '\\', 'f')
			case c < 0x20:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			default:
				dst = append(dst, c)
			}

			i++

			continue
		}

		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, `�`...)
		} else {
			dst = append(dst, s[i:i+size]...)
		}

		i += size
	}

	return append(dst, '"')
}

// decodeJSON parses exactly one JSON document from data.
func decodeJSON(data []byte, t PduType) (Value, error) {
	if !utf8.Valid(data) {
		return Value{}, newJSONError(data, t, invalidUTF8Offset(data), "invalid UTF-8 in string")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := readJSONValue(dec, 0)
	if err != nil {
		return Value{}, jsonDecodeError(data, t, dec, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, newJSONError(data, t, int(dec.InputOffset()), "unexpected data after JSON document")
	}

	return v, nil
}

// jsonStructError is raised by readJSONValue for problems encoding/json itself
// does not report.
type jsonStructError struct {
	msg string
}

func (e *jsonStructError) Error() string { return e.msg }

func readJSONValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxNestingDepth {
		return Value{}, &jsonStructError{msg: "exceeded maximum nesting depth"}
	}

	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return parseJSONNumber(t)
	case json.Delim:
		switch t {
		case '[':
			var items []Value

			for dec.More() {
				item, err := readJSONValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}

				items = append(items, item)
			}

			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}

			return array(items), nil
		case '{':
			var members []Member

			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}

				//nolint:errcheck //encoding/json only yields string tokens in key position
				key := keyTok.(string)

				val, err := readJSONValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}

				members = append(members, Member{Key: key, Value: val})
			}

			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}

			return object(members), nil
		}
	}

	return Value{}, &jsonStructError{msg: "unexpected token"}
}

func parseJSONNumber(n json.Number) (Value, error) {
	s := n.String()

	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, &jsonStructError{msg: "number out of range: " + s}
	}

	return Real(f), nil
}

func jsonDecodeError(data []byte, t PduType, dec *json.Decoder, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return newJSONError(data, t, int(syntaxErr.Offset), syntaxErr.Error())
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newJSONError(data, t, len(data), "unexpected end of JSON input")
	}

	return newJSONError(data, t, int(dec.InputOffset()), err.Error())
}

// newJSONError builds a [*ParseError] with the 1-based line and column of off.
func newJSONError(data []byte, t PduType, off int, msg string) *ParseError {
	off = min(max(off, 0), len(data))
	prefix := data[:off]
	line := 1 + bytes.Count(prefix, []byte{'\n'})
	column := off - bytes.LastIndexByte(prefix, '\n')

	return &ParseError{Type: t, Offset: off, Line: line, Column: column, Msg: msg}
}

func invalidUTF8Offset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}

		i += size
	}

	return len(data)
}

// prettyScan finds the end of an indented JSON document across partial reads.
// Its state survives between calls so that every byte is examined once.
type prettyScan struct {
	pos    int
	start  int
	depth  int
	begun  bool
	scalar bool
	inStr  bool
	esc    bool
}

// advance scans data, which always starts at the beginning of the PDU, and
// returns the offset just past the document, or -1 if more bytes are needed.
//
// Leading whitespace is skipped. A top level scalar has no braces to balance
// and ends at the next newline instead.
func (s *prettyScan) advance(data []byte) int {
	for ; s.pos < len(data); s.pos++ {
		c := data[s.pos]

		if !s.begun {
			if isJSONSpace(c) {
				continue
			}

			s.begun = true
			s.start = s.pos
			s.scalar = c != '{' && c != '['
		}

		if s.scalar {
			if c == '\n' {
				return s.pos
			}

			continue
		}

		switch {
		case s.inStr:
			switch {
			case s.esc:
				s.esc = false
			case c == '\\':
				s.esc = true
			case c == '"':
				s.inStr = false
			}
		case c == '"':
			s.inStr = true
		case c == '{' || c == '[':
			s.depth++
		case c == '}' || c == ']':
			s.depth--

			if s.depth == 0 {
				s.pos++
				return s.pos
			}
		}
	}

	return -1
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
