package watchwire

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// ErrWouldBlock is returned by a [Stream] in non-blocking mode when no data can
// be transferred without waiting.
var ErrWouldBlock = errors.New("watchwire: operation would block")

// Stream is a bidirectional byte transport that PDUs are read from and written to.
//
// Implementations enforce their own deadlines; a [Buffer] simply reports
// whatever error a read or write returns, wrapped in a [*TransportError].
type Stream interface {
	io.Reader
	io.Writer
	// SetNonBlock switches the stream between blocking and non-blocking mode.
	// In non-blocking mode reads and writes return [ErrWouldBlock] instead of waiting.
	SetNonBlock(nonBlock bool) error
}

// DeadlineReader represents an [io.ReadCloser] that supports setting a deadline.
type DeadlineReader interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

// DeadlineWriter represents an [io.WriteCloser] that supports setting a deadline.
type DeadlineWriter interface {
	io.WriteCloser
	SetWriteDeadline(t time.Time) error
}

// NewStream adapts rw to a [Stream].
//
// A value that already is a Stream is returned unchanged and a [net.Conn] is
// wrapped in a [ConnStream]. Anything else gets a Stream whose SetNonBlock
// reports [errors.ErrUnsupported] when asked to enable non-blocking mode.
//
//nolint:ireturn //Wraps many concrete transports
func NewStream(rw io.ReadWriter) Stream {
	switch s := rw.(type) {
	case Stream:
		return s
	case net.Conn:
		return NewConnStream(s)
	}

	return &rwStream{ReadWriter: rw}
}

type rwStream struct {
	io.ReadWriter
}

func (s *rwStream) SetNonBlock(nonBlock bool) error {
	if nonBlock {
		return errors.ErrUnsupported
	}

	return nil
}

func (s *rwStream) Close() error {
	if c, ok := s.ReadWriter.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// ConnStream is a [Stream] over a [net.Conn] with an optional idle timeout.
//
// The idle timeout is re-armed before every read and write. Deadlines set
// explicitly through SetReadDeadline or SetWriteDeadline still apply, the
// earlier of the two wins.
type ConnStream struct {
	conn     net.Conn
	mu       sync.Mutex
	idle     time.Duration
	rdl      time.Time
	wdl      time.Time
	nonBlock bool
}

// NewConnStream wraps conn.
func NewConnStream(conn net.Conn) *ConnStream {
	return &ConnStream{conn: conn}
}

// Conn returns the wrapped connection.
func (s *ConnStream) Conn() net.Conn {
	return s.conn
}

// SetIdleTimeout fails reads and writes that make no progress within d. A
// duration of 0 or less disables the timeout.
//
// Example:
//
//	stm := watchwire.NewConnStream(conn)
//	stm.SetIdleTimeout(30 * time.Second)
func (s *ConnStream) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	s.idle = d
	s.mu.Unlock()
}

// SetNonBlock implements [Stream].
func (s *ConnStream) SetNonBlock(nonBlock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nonBlock && !supportsNonBlock(s.conn) {
		return errors.ErrUnsupported
	}

	s.nonBlock = nonBlock

	return nil
}

func (s *ConnStream) isNonBlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nonBlock
}

// effective merges an explicit deadline with the idle timeout.
func (s *ConnStream) effective(explicit time.Time) time.Time {
	if s.idle <= 0 {
		return explicit
	}

	idle := time.Now().Add(s.idle)

	if explicit.IsZero() || idle.Before(explicit) {
		return idle
	}

	return explicit
}

// The deadline is applied while holding mu so that a concurrent
// SetReadDeadline, used to interrupt a blocked call, can never be overwritten
// by a stale value.
func (s *ConnStream) armRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.SetReadDeadline(s.effective(s.rdl))
}

func (s *ConnStream) armWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.SetWriteDeadline(s.effective(s.wdl))
}

func (s *ConnStream) Read(p []byte) (int, error) {
	if s.isNonBlock() {
		return readNonBlock(s.conn, p)
	}

	if err := s.armRead(); err != nil {
		return 0, err
	}

	return s.conn.Read(p)
}

func (s *ConnStream) Write(p []byte) (int, error) {
	if s.isNonBlock() {
		return writeNonBlock(s.conn, p)
	}

	if err := s.armWrite(); err != nil {
		return 0, err
	}

	return s.conn.Write(p)
}

// SetReadDeadline implements [DeadlineReader].
func (s *ConnStream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rdl = t

	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [DeadlineWriter].
func (s *ConnStream) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wdl = t

	return s.conn.SetWriteDeadline(t)
}

// Close closes the connection.
func (s *ConnStream) Close() error {
	return s.conn.Close()
}

// FileStream is a [Stream] over a pair of files, such as stdin and stdout.
type FileStream struct {
	r *os.File
	w *os.File
}

// NewFileStream returns a [FileStream] reading from r and writing to w.
func NewFileStream(r, w *os.File) *FileStream {
	return &FileStream{r: r, w: w}
}

// StdioStream returns a [FileStream] over the process's standard input and output.
func StdioStream() *FileStream {
	return NewFileStream(os.Stdin, os.Stdout)
}

func (s *FileStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n == 0 && isWouldBlock(err) {
		return 0, ErrWouldBlock
	}

	return n, err
}

func (s *FileStream) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if isWouldBlock(err) {
		return n, ErrWouldBlock
	}

	return n, err
}

// SetNonBlock sets or clears O_NONBLOCK on both descriptors.
func (s *FileStream) SetNonBlock(nonBlock bool) error {
	if err := setFileNonBlock(s.r, nonBlock); err != nil {
		return err
	}

	if s.w != s.r {
		return setFileNonBlock(s.w, nonBlock)
	}

	return nil
}

// Close closes both files.
func (s *FileStream) Close() error {
	err := s.r.Close()

	if s.w != s.r {
		return errors.Join(err, s.w.Close())
	}

	return err
}
