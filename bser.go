package watchwire

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode/utf8"
)

// BSER type tags.
const (
	bserArray    byte = 0x00
	bserObject   byte = 0x01
	bserBytes    byte = 0x02
	bserInt8     byte = 0x03
	bserInt16    byte = 0x04
	bserInt32    byte = 0x05
	bserInt64    byte = 0x06
	bserReal     byte = 0x07
	bserTrue     byte = 0x08
	bserFalse    byte = 0x09
	bserNull     byte = 0x0a
	bserTemplate byte = 0x0b
	bserSkip     byte = 0x0c
	bserUTF8     byte = 0x0d
)

var (
	bserMagicV1 = [2]byte{0x00, 0x01}
	bserMagicV2 = [2]byte{0x00, 0x02}
)

// bserEncoder writes a BSER body, or only measures it when measure is set.
// Measuring first lets the header carry the body length without a second copy.
type bserEncoder struct {
	dst     []byte
	n       int
	version int
	caps    Capability
	measure bool
}

func (e *bserEncoder) put(p ...byte) {
	if e.measure {
		e.n += len(p)
		return
	}

	e.dst = append(e.dst, p...)
}

func (e *bserEncoder) compactInts() bool {
	return e.version == 1 || e.caps.Has(CapCompactInts)
}

func (e *bserEncoder) putInt(i int64) {
	switch {
	case e.compactInts() && i >= math.MinInt8 && i <= math.MaxInt8:
		e.put(bserInt8, byte(int8(i)))
	case e.compactInts() && i >= math.MinInt16 && i <= math.MaxInt16:
		e.put(bserInt16)
		e.put(binary.LittleEndian.AppendUint16(nil, uint16(int16(i)))...)
	case e.compactInts() && i >= math.MinInt32 && i <= math.MaxInt32:
		e.put(bserInt32)
		e.put(binary.LittleEndian.AppendUint32(nil, uint32(int32(i)))...)
	default:
		e.put(bserInt64)
		e.put(binary.LittleEndian.AppendUint64(nil, uint64(i))...)
	}
}

// putString picks the string tag. Version 1 has no UTF-8 tag at all; version 2
// uses it for valid UTF-8 unless the capabilities turn it off.
func (e *bserEncoder) putString(s string, isError bool) {
	tag := bserBytes

	if e.version >= 2 &&
		!e.caps.Has(CapDisableUnicode) &&
		(!isError || !e.caps.Has(CapDisableUnicodeForErrors)) &&
		utf8.ValidString(s) {
		tag = bserUTF8
	}

	e.put(tag)
	e.putInt(int64(len(s)))

	if e.measure {
		e.n += len(s)
		return
	}

	e.dst = append(e.dst, s...)
}

func (e *bserEncoder) value(v Value, isError bool) {
	switch v.kind {
	case KindNull:
		e.put(bserNull)
	case KindBool:
		if v.b {
			e.put(bserTrue)
		} else {
			e.put(bserFalse)
		}
	case KindInt:
		e.putInt(v.i)
	case KindReal:
		e.put(bserReal)
		e.put(binary.LittleEndian.AppendUint64(nil, math.Float64bits(v.f))...)
	case KindString:
		e.putString(v.s, isError)
	case KindArray:
		e.put(bserArray)
		e.putInt(int64(len(v.arr)))

		for i := range v.arr {
			e.value(v.arr[i], false)
		}
	case KindObject:
		e.put(bserObject)
		e.putInt(int64(len(v.obj)))

		for i := range v.obj {
			e.putString(v.obj[i].Key, false)
			e.value(v.obj[i].Value, v.obj[i].Key == "error")
		}
	}
}

// appendBSER appends a complete BSER PDU (header and body) holding v.
func appendBSER(dst []byte, v Value, version int, caps Capability) ([]byte, error) {
	var magic [2]byte

	switch version {
	case 1:
		magic = bserMagicV1
	case 2:
		magic = bserMagicV2
	default:
		return nil, &EncodeError{Type: BSER, Msg: "unsupported version " + strconv.Itoa(version)}
	}

	m := bserEncoder{version: version, caps: caps, measure: true}
	m.value(v, false)

	e := bserEncoder{dst: dst, version: version, caps: caps}
	e.put(magic[:]...)

	if version == 2 {
		e.put(binary.LittleEndian.AppendUint32(nil, uint32(caps))...)
	}

	e.putInt(int64(m.n))
	e.value(v, false)

	return e.dst, nil
}

// bserIntSize returns the payload width of an integer tag, or 0 for other tags.
func bserIntSize(tag byte) int {
	switch tag {
	case bserInt8:
		return 1
	case bserInt16:
		return 2
	case bserInt32:
		return 4
	case bserInt64:
		return 8
	}

	return 0
}

func bserReadInt(tag byte, p []byte) int64 {
	switch tag {
	case bserInt8:
		return int64(int8(p[0]))
	case bserInt16:
		return int64(int16(binary.LittleEndian.Uint16(p)))
	case bserInt32:
		return int64(int32(binary.LittleEndian.Uint32(p)))
	}

	return int64(binary.LittleEndian.Uint64(p))
}

// bserHeader describes a parsed PDU header.
type bserHeader struct {
	size   int   // header bytes, including the length field
	length int64 // body bytes
	caps   Capability
}

// parseBSERHeader parses the header at the start of data. ok is false when
// more bytes are needed.
func parseBSERHeader(data []byte, t PduType) (hdr bserHeader, ok bool, err error) {
	pos := len(bserMagicV1)

	if t == BSERv2 {
		if len(data) < pos+4 {
			return hdr, false, nil
		}

		hdr.caps = Capability(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
	}

	if len(data) < pos+1 {
		return hdr, false, nil
	}

	tag := data[pos]
	width := bserIntSize(tag)

	if width == 0 {
		return hdr, false, &ParseError{Type: t, Offset: pos, Msg: "invalid length tag 0x" + strconv.FormatUint(uint64(tag), 16)}
	}

	pos++

	if len(data) < pos+width {
		return hdr, false, nil
	}

	hdr.length = bserReadInt(tag, data[pos:])
	hdr.size = pos + width

	if hdr.length < 0 {
		return hdr, false, &ParseError{Type: t, Offset: pos, Msg: "negative PDU length " + strconv.FormatInt(hdr.length, 10)}
	}

	return hdr, true, nil
}

// bserDecoder reads a single value from a complete PDU body.
type bserDecoder struct {
	data []byte
	pos  int
	base int // header size; error offsets are reported relative to the PDU
	typ  PduType
}

func (d *bserDecoder) fail(msg string) error {
	return &ParseError{Type: d.typ, Offset: d.base + d.pos, Msg: msg}
}

func (d *bserDecoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *bserDecoder) next() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.fail("unexpected end of PDU")
	}

	c := d.data[d.pos]
	d.pos++

	return c, nil
}

func (d *bserDecoder) take(n int) ([]byte, error) {
	if n < 0 || n > d.remaining() {
		return nil, d.fail("unexpected end of PDU")
	}

	p := d.data[d.pos : d.pos+n]
	d.pos += n

	return p, nil
}

func (d *bserDecoder) intBody(tag byte) (int64, error) {
	p, err := d.take(bserIntSize(tag))
	if err != nil {
		return 0, err
	}

	return bserReadInt(tag, p), nil
}

// count reads an integer used as a length or element count. Each counted item
// occupies at least minItem bytes, which bounds allocations by the PDU size.
func (d *bserDecoder) count(minItem int) (int, error) {
	tag, err := d.next()
	if err != nil {
		return 0, err
	}

	if bserIntSize(tag) == 0 {
		d.pos--
		return 0, d.fail("expected integer, found tag 0x" + strconv.FormatUint(uint64(tag), 16))
	}

	n, err := d.intBody(tag)
	if err != nil {
		return 0, err
	}

	if n < 0 || n > int64(d.remaining()/max(minItem, 1)) {
		return 0, d.fail("invalid length " + strconv.FormatInt(n, 10))
	}

	return int(n), nil
}

func (d *bserDecoder) str() (string, error) {
	tag, err := d.next()
	if err != nil {
		return "", err
	}

	if tag != bserBytes && tag != bserUTF8 {
		d.pos--
		return "", d.fail("expected string, found tag 0x" + strconv.FormatUint(uint64(tag), 16))
	}

	return d.strBody(tag)
}

// strBody reads the length and bytes of a string whose tag was already
// consumed. Tag 0x0d strings must hold valid UTF-8.
func (d *bserDecoder) strBody(tag byte) (string, error) {
	n, err := d.count(1)
	if err != nil {
		return "", err
	}

	start := d.pos

	p, err := d.take(n)
	if err != nil {
		return "", err
	}

	if tag == bserUTF8 && !utf8.Valid(p) {
		d.pos = start
		return "", d.fail("invalid UTF-8 in string")
	}

	return string(p), nil
}

func (d *bserDecoder) value(depth int) (Value, error) {
	if depth > maxNestingDepth {
		return Value{}, d.fail("exceeded maximum nesting depth")
	}

	tag, err := d.next()
	if err != nil {
		return Value{}, err
	}

	switch tag {
	case bserArray:
		n, err := d.count(1)
		if err != nil {
			return Value{}, err
		}

		items := make([]Value, n)

		for i := range items {
			if items[i], err = d.value(depth + 1); err != nil {
				return Value{}, err
			}
		}

		return array(items), nil
	case bserObject:
		n, err := d.count(2)
		if err != nil {
			return Value{}, err
		}

		members := make([]Member, n)

		for i := range members {
			if members[i].Key, err = d.str(); err != nil {
				return Value{}, err
			}

			if members[i].Value, err = d.value(depth + 1); err != nil {
				return Value{}, err
			}
		}

		return object(members), nil
	case bserBytes, bserUTF8:
		s, err := d.strBody(tag)
		if err != nil {
			return Value{}, err
		}

		return String(s), nil
	case bserInt8, bserInt16, bserInt32, bserInt64:
		i, err := d.intBody(tag)
		if err != nil {
			return Value{}, err
		}

		return Int(i), nil
	case bserReal:
		p, err := d.take(8)
		if err != nil {
			return Value{}, err
		}

		return Real(math.Float64frombits(binary.LittleEndian.Uint64(p))), nil
	case bserTrue:
		return Bool(true), nil
	case bserFalse:
		return Bool(false), nil
	case bserNull:
		return Null(), nil
	case bserTemplate:
		return d.template(depth)
	case bserSkip:
		d.pos--
		return Value{}, d.fail("skip marker outside of a template")
	}

	d.pos--

	return Value{}, d.fail("unknown tag 0x" + strconv.FormatUint(uint64(tag), 16))
}

// template decodes the compact array-of-objects form: a key list, a row count
// and then one cell per key per row. A skip marker leaves the key out of that row.
func (d *bserDecoder) template(depth int) (Value, error) {
	tag, err := d.next()
	if err != nil {
		return Value{}, err
	}

	if tag != bserArray {
		d.pos--
		return Value{}, d.fail("template keys must be an array")
	}

	nkeys, err := d.count(1)
	if err != nil {
		return Value{}, err
	}

	keys := make([]string, nkeys)
	for i := range keys {
		if keys[i], err = d.str(); err != nil {
			return Value{}, err
		}
	}

	// Rows of an empty key list occupy no bytes; bound them by the PDU size anyway.
	rows, err := d.count(max(nkeys, 1))
	if err != nil {
		return Value{}, err
	}

	out := make([]Value, rows)

	for r := range out {
		members := make([]Member, 0, nkeys)

		for _, key := range keys {
			if d.pos < len(d.data) && d.data[d.pos] == bserSkip {
				d.pos++
				continue
			}

			cell, err := d.value(depth + 2)
			if err != nil {
				return Value{}, err
			}

			members = append(members, Member{Key: key, Value: cell})
		}

		out[r] = object(members)
	}

	return array(out), nil
}

// decodeBSER decodes a complete PDU body. base is the header size.
func decodeBSER(body []byte, t PduType, base int) (Value, error) {
	d := bserDecoder{data: body, base: base, typ: t}

	v, err := d.value(0)
	if err != nil {
		return Value{}, err
	}

	if d.pos != len(d.data) {
		return Value{}, d.fail("unexpected data after value")
	}

	return v, nil
}
