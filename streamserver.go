package watchwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrResponderClosed is returned by [Responder.Send] once the connection has
// been torn down.
var ErrResponderClosed = errors.New("watchwire: responder closed")

// Responder writes response PDUs to one client connection.
//
// Each request gets its own Responder, fixed to the format of that request and
// the capabilities negotiated for it. A handler that keeps pushing PDUs after
// it returns, such as a subscription, therefore keeps its format even when
// later requests on the connection use another one. Send may be called from
// any goroutine; writes from all Responders of a connection are serialized.
type Responder struct {
	conn *responderConn
	typ  PduType
	caps Capability
}

// responderConn is the state shared by the Responders of one connection.
type responderConn struct {
	mu     sync.Mutex
	w      io.Writer
	buf    Buffer
	closed bool
}

func newResponder(w io.Writer) *Responder {
	return &Responder{conn: &responderConn{w: w}, typ: JSONCompact}
}

// withFormat returns a Responder on the same connection writing t with caps.
func (r *Responder) withFormat(t PduType, caps Capability) *Responder {
	return &Responder{conn: r.conn, typ: t, caps: caps}
}

// Type returns the format responses are written in.
func (r *Responder) Type() PduType {
	return r.typ
}

// Capabilities returns the capabilities responses are encoded with.
func (r *Responder) Capabilities() Capability {
	return r.caps
}

// Send writes v as a single PDU.
func (r *Responder) Send(v Value) error {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()

	if r.conn.closed {
		return ErrResponderClosed
	}

	return r.conn.buf.EncodeTo(r.conn.w, r.typ, r.caps, v)
}

func (r *Responder) close() {
	r.conn.mu.Lock()
	r.conn.closed = true
	r.conn.mu.Unlock()
}

// StreamServer serves the commands of a single client connection.
//
// Requests are handled one at a time in arrival order. Each response is
// written in the format of its request; BSER v2 responses use the
// intersection of the client's capabilities and Capabilities. JSON requests
// may be compact lines or indented documents, and are answered in kind.
//
// All handlers run with the context key [CtxStreamServer] set to the current [*StreamServer].
type StreamServer struct {
	Callbacks Callbacks
	Registry  *CommandRegistry
	// Capabilities offered to BSER v2 clients.
	Capabilities Capability

	stream Stream
	in     Buffer
	resp   atomic.Pointer[Responder]
}

// NewStreamServer returns a [*StreamServer] reading requests from stm and
// dispatching them through reg.
func NewStreamServer(stm Stream, reg *CommandRegistry) *StreamServer {
	s := &StreamServer{
		Registry:     reg,
		Capabilities: SupportedCapabilities,
		stream:       stm,
	}

	s.resp.Store(newResponder(stm))

	s.Callbacks.OnHandlerPanic = DefaultOnHandlerPanic
	s.in.ExpectPretty = true

	return s
}

// SetLimit caps the size of a request PDU, see [Buffer.SetLimit].
func (s *StreamServer) SetLimit(n int64) {
	s.in.SetLimit(n)
}

// Responder returns the Responder of the most recent request, or one writing
// compact JSON before the first request arrives.
func (s *StreamServer) Responder() *Responder {
	return s.resp.Load()
}

// Close closes the underlying stream if it supports [io.Closer].
func (s *StreamServer) Close() error {
	s.resp.Load().close()

	if c, ok := s.stream.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// interrupt unblocks a pending read, preferring a deadline over closing.
func (s *StreamServer) interrupt() {
	if d, ok := s.stream.(DeadlineReader); ok {
		_ = d.SetReadDeadline(time.Now())
		return
	}

	_ = s.Close()
}

// Run serves requests until ctx is cancelled, the client disconnects or a
// malformed PDU arrives. A clean disconnect returns io.EOF.
func (s *StreamServer) Run(ctx context.Context) error {
	defer s.Close()

	// Handlers may keep goroutines alive through the Responder; they are told
	// to stop once the connection is done.
	sctx, cancel := context.WithCancel(context.WithValue(ctx, CtxStreamServer, s))
	defer cancel()

	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()

	var err error

	for {
		var req Value

		req, err = s.in.Decode(s.stream)

		if cErr := ctx.Err(); cErr != nil {
			err = errors.Join(err, cErr)
			break
		}

		if err != nil {
			s.decodeFailed(sctx, err)
			break
		}

		s.dispatch(sctx, req)
	}

	s.Callbacks.runOnExit(ctx, err)

	return err
}

func (s *StreamServer) decodeFailed(ctx context.Context, err error) {
	if errors.Is(err, io.EOF) {
		return
	}

	s.Callbacks.runOnDecodingError(ctx, err)

	var pe *ParseError
	if !errors.As(err, &pe) {
		return
	}

	// Best effort: tell the client why it is being dropped.
	r := s.resp.Load().withFormat(pe.Type, 0)

	resp := errorObject(err)
	if sErr := r.Send(resp); sErr != nil {
		s.Callbacks.runOnEncodingError(ctx, resp, sErr)
	}
}

func (s *StreamServer) dispatch(ctx context.Context, req Value) {
	t := s.in.Type()

	var caps Capability
	if t == BSERv2 {
		caps = Negotiate(s.Capabilities, s.in.Capabilities())
	}

	r := s.resp.Load().withFormat(t, caps)
	s.resp.Store(r)

	resp := s.handle(ctx, req, r)
	if err := r.Send(resp); err != nil {
		s.Callbacks.runOnEncodingError(ctx, resp, err)
	}
}

func (s *StreamServer) handle(ctx context.Context, req Value, r *Responder) (resp Value) {
	cmd, err := ParseCommand(req)
	if err != nil {
		return errorObject(err)
	}

	var def CommandDefinition

	ok := false
	if s.Registry != nil {
		def, ok = s.Registry.Lookup(cmd.Name)
	}

	if !ok || def.Handler == nil {
		return errorObject(fmt.Errorf("unknown command %s", cmd.Name))
	}

	if err := cmd.Validate(s.Registry); err != nil {
		return errorObject(err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.Callbacks.runOnHandlerPanic(ctx, cmd, rec)
			resp = errorObject(fmt.Errorf("internal error while running %s", cmd.Name))
		}
	}()

	out, err := def.Handler.Handle(ctx, cmd, r)
	if err != nil {
		return errorObject(err)
	}

	return withVersion(out)
}

func errorObject(err error) Value {
	return Object(M("error", String(err.Error())), M("version", String(Version)))
}

// withVersion stamps the server version onto object responses that lack one.
func withVersion(v Value) Value {
	if v.Kind() != KindObject {
		return v
	}

	if _, ok := v.Get("version"); ok {
		return v
	}

	return object(append(v.Members(), M("version", String(Version))))
}
