package watchwire

import (
	"io"
)

// EncodeJSON writes v to w as a single JSON PDU terminated by a newline.
//
// Compact output has no whitespace. Pretty output is indented by four spaces
// and uses ": " between keys and values.
//
// Reals always carry a decimal point or exponent; NaN and infinities cannot be
// represented and fail with an [*EncodeError]. Strings that are not valid UTF-8
// have the offending bytes replaced with U+FFFD.
func (b *Buffer) EncodeJSON(w io.Writer, v Value, pretty bool) error {
	b.Clear()

	err := b.win.appendWith(func(dst []byte) ([]byte, error) {
		out, err := appendJSON(dst, v, pretty, 0)
		if err != nil {
			return nil, err
		}

		return append(out, '\n'), nil
	})
	if err != nil {
		return err
	}

	return b.flush(w)
}

// EncodeBSER writes v to w as a single BSER PDU of the given version (1 or 2).
//
// caps is only used by version 2, where it is written into the header and
// controls string tags and integer widths. Version 1 always writes byte strings
// and the smallest integer width.
//
// Example:
//
//	var buf watchwire.Buffer
//	err := buf.EncodeBSER(conn, 2, watchwire.DefaultCapabilities,
//		watchwire.Strings("watch-project", "/src"))
func (b *Buffer) EncodeBSER(w io.Writer, version int, caps Capability, v Value) error {
	b.Clear()

	if version == 1 {
		caps = 0
	}

	err := b.win.appendWith(func(dst []byte) ([]byte, error) {
		return appendBSER(dst, v, version, caps)
	})
	if err != nil {
		return err
	}

	return b.flush(w)
}

// EncodeTo writes v to w in format t. caps only applies to [BSERv2].
func (b *Buffer) EncodeTo(w io.Writer, t PduType, caps Capability, v Value) error {
	switch t {
	case JSONCompact:
		return b.EncodeJSON(w, v, false)
	case JSONPretty:
		return b.EncodeJSON(w, v, true)
	case BSER:
		return b.EncodeBSER(w, 1, 0, v)
	case BSERv2:
		return b.EncodeBSER(w, 2, caps, v)
	}

	return &EncodeError{Type: t, Msg: ErrUnknownPduType.Error()}
}

// flush writes every buffered byte to w.
func (b *Buffer) flush(w io.Writer) error {
	if err := b.win.writeTo(w); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	return nil
}
