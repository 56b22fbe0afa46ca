package watchwire

import (
	"io"
)

const (
	// initialWindowSize is the first allocation made by a window.
	initialWindowSize = 8 * 1024
	// minFree is the free space a fill wants available before reading.
	minFree = 4 * 1024
)

// window is the growable byte storage behind a [Buffer].
//
// Bytes in [rpos, wpos) are buffered but not yet consumed (input) or not yet
// flushed (output). [0, rpos) is dead space reclaimed by shunt. All cursor
// arithmetic lives here so that 0 <= rpos <= wpos <= len(buf) holds everywhere.
type window struct {
	buf  []byte
	rpos int
	wpos int
}

// peek returns the unconsumed bytes. The slice aliases the window and is only
// valid until the next mutating call.
func (w *window) peek() []byte {
	return w.buf[w.rpos:w.wpos]
}

// buffered returns the number of unconsumed bytes.
func (w *window) buffered() int {
	return w.wpos - w.rpos
}

// free returns the space available past wpos.
func (w *window) free() int {
	return len(w.buf) - w.wpos
}

// consume drops n unconsumed bytes.
func (w *window) consume(n int) {
	if n < 0 || n > w.buffered() {
		panic("watchwire: consume out of range")
	}

	w.rpos += n

	// Nothing left to keep; start over at the front.
	if w.rpos == w.wpos {
		w.rpos, w.wpos = 0, 0
	}
}

// reset empties the window, keeping its capacity.
func (w *window) reset() {
	w.rpos, w.wpos = 0, 0
}

// shunt moves the unconsumed bytes to the front of the storage.
func (w *window) shunt() {
	if w.rpos == 0 {
		return
	}

	n := copy(w.buf, w.buf[w.rpos:w.wpos])
	w.rpos, w.wpos = 0, n
}

// reserve makes at least n bytes of free space available. Dead space is
// reclaimed first; growth doubles the capacity so that repeated reserves cost
// amortized constant time per byte.
func (w *window) reserve(n int) {
	if w.free() >= n {
		return
	}

	w.shunt()

	if w.free() >= n {
		return
	}

	size := max(len(w.buf), initialWindowSize)
	for size-w.wpos < n {
		size *= 2
	}

	grown := make([]byte, size)
	copy(grown, w.buf[:w.wpos])
	w.buf = grown
}

// append adds p after the unconsumed bytes.
func (w *window) append(p ...byte) {
	w.reserve(len(p))
	w.wpos += copy(w.buf[w.wpos:], p)
}

// appendWith lets fn append to the unconsumed bytes directly. If fn fails the
// window is left unchanged.
func (w *window) appendWith(fn func([]byte) ([]byte, error)) error {
	out, err := fn(w.buf[:w.wpos])
	if err != nil {
		return err
	}

	w.buf = out[:cap(out)]
	w.wpos = len(out)

	return nil
}

// readFrom performs a single read into the free space, growing first when
// less than minFree bytes are available.
func (w *window) readFrom(r io.Reader) (int, error) {
	if w.free() < minFree {
		w.reserve(minFree)
	}

	n, err := r.Read(w.buf[w.wpos:])
	if n > 0 {
		w.wpos += n
	}

	return n, err
}

// writeTo flushes every unconsumed byte to wr, retrying short writes.
func (w *window) writeTo(wr io.Writer) error {
	for w.buffered() > 0 {
		n, err := wr.Write(w.peek())
		if n > 0 {
			w.consume(n)
		}

		if err != nil {
			return err
		}

		if n == 0 {
			return io.ErrShortWrite
		}
	}

	return nil
}
