package watchwire

import (
	"io"
)

// PassThru reads one PDU from r and writes it to w in format t, using out as
// the output buffer.
//
// When the input already is in format t (and, for BSER v2, carries exactly
// caps) the raw bytes are copied without being decoded, so malformed input is
// forwarded as is. Otherwise the PDU is decoded and re-encoded.
//
// Errors are reported as for [Buffer.Decode] and [Buffer.EncodeTo].
func (b *Buffer) PassThru(r io.Reader, out *Buffer, w io.Writer, t PduType, caps Capability) error {
	f, err := b.readPdu(r)
	if err != nil {
		return err
	}

	if b.typ == t && (t != BSERv2 || b.caps == caps) {
		start := f.start
		if t.IsBSER() {
			start = 0 // keep the header
		}

		raw := b.win.peek()[start:f.next]

		out.Clear()
		out.win.append(raw...)

		// A document framed by its braces may arrive before its trailing newline.
		if !t.IsBSER() && f.next == f.end {
			out.win.append('\n')
		}

		b.win.consume(f.next)

		return out.flush(w)
	}

	v, err := b.decodeFrame(f)
	if err != nil {
		return err
	}

	b.win.consume(f.next)

	return out.EncodeTo(w, t, caps, v)
}
