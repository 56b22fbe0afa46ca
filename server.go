package watchwire

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ContextKey is used as keys for context values.
type ContextKey int

const (
	// Key for the underlying net.Conn.
	CtxNetConn ContextKey = iota
	// Key for the [*StreamServer] serving the connection.
	CtxStreamServer
)

// ErrUnknownScheme is returned when a URI names a transport this package cannot use.
var ErrUnknownScheme = errors.New("watchwire: unknown scheme in uri")

// Server accepts connections and serves each one with its own [*StreamServer]
// in its own goroutine.
//
// Handlers find the accepted [net.Conn] under the context key [CtxNetConn].
type Server struct {
	Registry *CommandRegistry
	Binder   Binder
	// Capabilities offered to BSER v2 clients. Defaults to [SupportedCapabilities].
	Capabilities Capability
	// IdleTimeout closes connections that send nothing for this long. Zero disables it.
	IdleTimeout time.Duration
	// ReadLimit caps the size of a request PDU. Zero means [DefaultReadLimit].
	ReadLimit int64
}

// NewServer returns a new [*Server] dispatching commands through reg.
func NewServer(reg *CommandRegistry) *Server {
	return &Server{Registry: reg, Capabilities: SupportedCapabilities}
}

// ListenAndServe listens on listenURI and serves it until ctx is cancelled.
//
// Supported schemes: tcp, tcp4, tcp6 and unix.
//
// Example uris: 'tcp:127.0.0.1:9090', 'unix:///var/run/watchwire.sock'
func (s *Server) ListenAndServe(ctx context.Context, listenURI string) error {
	uri, err := url.Parse(listenURI)
	if err != nil {
		return err
	}

	var lc net.ListenConfig

	var ln net.Listener

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
		ln, err = lc.Listen(ctx, uri.Scheme, strings.TrimPrefix(listenURI, uri.Scheme+":"))
	case "unix":
		ln, err = lc.Listen(ctx, uri.Scheme, uri.Path)
	default:
		return ErrUnknownScheme
	}

	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for the
// connections it started to finish.
//
// It is safe to call Serve multiple times with different listeners.
//
// The listener will be closed when the context is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	sctx, stop := context.WithCancel(ctx)
	defer stop()

	context.AfterFunc(sctx, func() { ln.Close() })

	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Join(err, ctx.Err())
		}

		wg.Add(1)

		go func(nctx context.Context, conn net.Conn) {
			defer wg.Done()

			s.serveConn(nctx, conn)
		}(sctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	stm := NewConnStream(conn)
	stm.SetIdleTimeout(s.IdleTimeout)

	ss := NewStreamServer(stm, s.Registry)
	ss.Capabilities = s.Capabilities
	ss.SetLimit(s.ReadLimit)

	cctx, nstop := context.WithCancelCause(context.WithValue(ctx, CtxNetConn, conn))
	defer nstop(nil)

	if s.Binder != nil {
		s.Binder.Bind(cctx, ss, nstop)
	}

	_ = ss.Run(cctx)
}
