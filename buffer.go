package watchwire

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

// DefaultReadLimit is the largest PDU a [Buffer] accepts unless [Buffer.SetLimit] says otherwise.
const DefaultReadLimit = 1 << 30

// Buffer is a growable byte window that detects, frames, decodes and encodes PDUs.
//
// The same Buffer may be used for reading and writing, but not at the same time;
// encoding discards any bytes still buffered. Input read past the end of one PDU
// stays buffered for the next [Buffer.Decode], so pipelined PDUs are never lost.
//
// A Buffer is not safe for concurrent use. It performs no cancellation of its
// own: deadlines belong to the [io.Reader] or [io.Writer] it is handed, for
// example a [ConnStream].
//
// The zero Buffer is ready to use.
type Buffer struct {
	// ExpectPretty makes JSON input framed as indented documents (balanced
	// braces) instead of newline terminated lines. Compact lines still frame
	// correctly, so a peer may send either form. A document that spans several
	// lines is reported as [JSONPretty], one that fits on a single line as
	// [JSONCompact].
	ExpectPretty bool

	win    window
	limit  int64
	typ    PduType
	caps   Capability
	scan   int
	pretty prettyScan
}

// frame locates a fully buffered PDU relative to the read cursor. The document
// is peek()[start:end]; next bytes are consumed once it is handled.
type frame struct {
	start int
	end   int
	next  int
}

// Clear drops all buffered data and any detected type. The storage is kept for reuse.
func (b *Buffer) Clear() {
	b.win.reset()
	b.typ = NeedData
	b.caps = 0
	b.scan = 0
	b.pretty = prettyScan{}
}

// SetLimit caps the size of a single incoming PDU at n bytes. A PDU that
// declares or grows past the limit fails with [ErrPduTooLarge]. A limit of 0 or
// less restores [DefaultReadLimit].
//
// Example:
//
//	var buf watchwire.Buffer
//	buf.SetLimit(16 * 1024 * 1024) // refuse anything over 16 MiB
func (b *Buffer) SetLimit(n int64) {
	b.limit = n
}

func (b *Buffer) readLimit() int64 {
	if b.limit <= 0 {
		return DefaultReadLimit
	}

	return b.limit
}

// Type returns the format of the last PDU read, or [NeedData] if detection has
// not completed.
func (b *Buffer) Type() PduType {
	return b.typ
}

// Capabilities returns the capability mask from the last BSER v2 header read.
func (b *Buffer) Capabilities() Capability {
	return b.caps
}

// Buffered returns the number of bytes read from the stream but not yet consumed.
func (b *Buffer) Buffered() int {
	return b.win.buffered()
}

// detect classifies the buffered bytes.
func (b *Buffer) detect() PduType {
	data := b.win.peek()

	if len(data) < len(bserMagicV1) {
		return NeedData
	}

	switch {
	case data[0] == bserMagicV1[0] && data[1] == bserMagicV1[1]:
		return BSER
	case data[0] == bserMagicV2[0] && data[1] == bserMagicV2[1]:
		return BSERv2
	case b.ExpectPretty:
		return JSONPretty
	}

	return JSONCompact
}

// fill performs one read from r. A clean end of stream with nothing buffered
// is io.EOF; anything else left over turns it into io.ErrUnexpectedEOF.
func (b *Buffer) fill(r io.Reader) error {
	n, err := b.win.readFrom(r)
	if n > 0 {
		return nil
	}

	// A reader returning 0, nil would spin us forever; treat it as the end.
	if err == nil || errors.Is(err, io.EOF) {
		if b.win.buffered() == 0 {
			return io.EOF
		}

		return io.ErrUnexpectedEOF
	}

	return &TransportError{Op: "read", Err: err}
}

func (b *Buffer) tooLarge(size int64) error {
	return &ParseError{
		Err:  ErrPduTooLarge,
		Type: b.typ,
		Msg:  "size " + strconv.FormatInt(size, 10) + " exceeds limit " + strconv.FormatInt(b.readLimit(), 10),
	}
}

// readPdu reads from r until one complete PDU is buffered and returns its
// frame. Nothing is consumed.
func (b *Buffer) readPdu(r io.Reader) (frame, error) {
	f, err := b.framePdu(r)
	if err != nil {
		return frame{}, b.trailingSpace(err)
	}

	return f, nil
}

// trailingSpace turns an unexpected EOF into a clean one when all that is left
// is the whitespace between indented documents.
func (b *Buffer) trailingSpace(err error) error {
	if !b.ExpectPretty || !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}

	if len(bytes.TrimLeft(b.win.peek(), " \t\r\n")) > 0 {
		return err
	}

	b.win.reset()

	return io.EOF
}

func (b *Buffer) framePdu(r io.Reader) (frame, error) {
	b.scan = 0
	b.pretty = prettyScan{}

	for {
		// Whitespace between indented documents would hide a BSER magic.
		if b.ExpectPretty {
			data := b.win.peek()
			b.win.consume(len(data) - len(bytes.TrimLeft(data, " \t\r\n")))
		}

		if b.typ = b.detect(); b.typ != NeedData {
			break
		}

		if err := b.fill(r); err != nil {
			return frame{}, err
		}
	}

	switch b.typ {
	case BSER, BSERv2:
		return b.frameBSER(r)
	case JSONPretty:
		return b.framePretty(r)
	}

	return b.frameLine(r)
}

func (b *Buffer) frameLine(r io.Reader) (frame, error) {
	for {
		data := b.win.peek()

		if i := bytes.IndexByte(data[b.scan:], '\n'); i >= 0 {
			end := b.scan + i
			if int64(end) > b.readLimit() {
				return frame{}, b.tooLarge(int64(end))
			}

			return frame{end: end, next: end + 1}, nil
		}

		b.scan = len(data)

		if int64(b.scan) > b.readLimit() {
			return frame{}, b.tooLarge(int64(b.scan))
		}

		if err := b.fill(r); err != nil {
			return frame{}, err
		}
	}
}

func (b *Buffer) framePretty(r io.Reader) (frame, error) {
	for {
		data := b.win.peek()

		if end := b.pretty.advance(data); end >= 0 {
			if int64(end-b.pretty.start) > b.readLimit() {
				return frame{}, b.tooLarge(int64(end - b.pretty.start))
			}

			if bytes.IndexByte(data[b.pretty.start:end], '\n') < 0 {
				b.typ = JSONCompact
			}

			next := end

			// Swallow the line ending if it has already arrived.
			if next < len(data) && data[next] == '\r' {
				next++
			}

			if next < len(data) && data[next] == '\n' {
				next++
			}

			return frame{start: b.pretty.start, end: end, next: next}, nil
		}

		if int64(len(data)) > b.readLimit() {
			return frame{}, b.tooLarge(int64(len(data)))
		}

		if err := b.fill(r); err != nil {
			return frame{}, err
		}
	}
}

func (b *Buffer) frameBSER(r io.Reader) (frame, error) {
	var hdr bserHeader

	for {
		var (
			ok  bool
			err error
		)

		if hdr, ok, err = parseBSERHeader(b.win.peek(), b.typ); err != nil {
			return frame{}, err
		}

		if ok {
			break
		}

		if err := b.fill(r); err != nil {
			return frame{}, err
		}
	}

	if hdr.length > b.readLimit() {
		return frame{}, b.tooLarge(hdr.length)
	}

	b.caps = hdr.caps
	total := hdr.size + int(hdr.length)

	for b.win.buffered() < total {
		b.win.reserve(total - b.win.buffered())

		if err := b.fill(r); err != nil {
			return frame{}, err
		}
	}

	return frame{start: hdr.size, end: total, next: total}, nil
}

func (b *Buffer) decodeFrame(f frame) (Value, error) {
	data := b.win.peek()[f.start:f.end]

	if b.typ.IsBSER() {
		return decodeBSER(data, b.typ, f.start)
	}

	return decodeJSON(data, b.typ)
}

// Decode reads the next PDU from r and returns its value. The PDU format is
// detected from its first bytes and is available from [Buffer.Type] afterwards.
//
// At a PDU boundary a closed stream yields io.EOF. A stream that ends part way
// through a PDU yields io.ErrUnexpectedEOF. Malformed input yields a
// [*ParseError]; the offending bytes are left in the buffer and the caller
// should abandon the stream.
//
// Example:
//
//	var buf watchwire.Buffer
//	for {
//		v, err := buf.Decode(conn)
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		...
//	}
func (b *Buffer) Decode(r io.Reader) (Value, error) {
	f, err := b.readPdu(r)
	if err != nil {
		return Value{}, err
	}

	v, err := b.decodeFrame(f)
	if err != nil {
		return Value{}, err
	}

	b.win.consume(f.next)

	return v, nil
}
