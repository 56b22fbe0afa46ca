package watchwire

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ServerError is returned by [TransportClient.Call] when the server answers
// with an "error" member. Response holds the full reply.
type ServerError struct {
	Msg      string
	Response Value
}

func (e *ServerError) Error() string {
	return "watchwire: server error: " + e.Msg
}

// TransportClient sends commands to a server over a single [Stream] and reads
// back the responses.
//
// Servers may interleave unilateral PDUs (subscription notifications and log
// lines) with command responses. Call sets those aside; [TransportClient.Receive]
// returns them in order.
//
// A TransportClient is goroutine-safe, but all calls are serialized over the
// one stream. For concurrent connections use a [ClientPool].
type TransportClient struct {
	stream     Stream
	in         Buffer
	out        Buffer
	serverType PduType
	serverCaps Capability
	pending    []Value
	mu         sync.Mutex
}

// NewTransportClient returns a [*TransportClient] speaking BSER v2 with
// [DefaultCapabilities] over stm.
func NewTransportClient(stm Stream) *TransportClient {
	return &TransportClient{stream: stm, serverType: BSERv2, serverCaps: DefaultCapabilities}
}

// NewTransportClientIO is [NewTransportClient] for any [io.ReadWriter]; see [NewStream].
func NewTransportClientIO(rw io.ReadWriter) *TransportClient {
	return NewTransportClient(NewStream(rw))
}

// SetServerFormat selects the format commands are sent in. The server answers
// in the same format.
func (c *TransportClient) SetServerFormat(t PduType, caps Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.serverType, c.serverCaps = t, caps
	c.in.ExpectPretty = t == JSONPretty
}

// SetLimit caps the size of a response PDU, see [Buffer.SetLimit].
func (c *TransportClient) SetLimit(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.in.SetLimit(n)
}

// Close closes the underlying stream if it supports [io.Closer].
//
// It is safe to call Close multiple times.
func (c *TransportClient) Close() error {
	if cl, ok := c.stream.(io.Closer); ok {
		return cl.Close()
	}

	return nil
}

// interrupt unblocks a pending read or write. Deadlines are preferred so the
// stream is not torn down underneath a caller that is about to return anyway.
func (c *TransportClient) interrupt() {
	dr, rok := c.stream.(DeadlineReader)
	dw, wok := c.stream.(DeadlineWriter)

	if rok || wok {
		if rok {
			_ = dr.SetReadDeadline(time.Now())
		}

		if wok {
			_ = dw.SetWriteDeadline(time.Now())
		}

		return
	}

	_ = c.Close()
}

// withContext runs fn, interrupting it if ctx ends first. A client whose call
// was interrupted may hold a partial PDU and should be closed.
func (c *TransportClient) withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, c.interrupt)

	err := fn()

	if !stop() {
		return errors.Join(err, ctx.Err())
	}

	return err
}

func isUnilateral(v Value) bool {
	if u, ok := v.Get("unilateral"); ok {
		if b, ok := u.AsBool(); ok && b {
			return true
		}
	}

	_, log := v.Get("log")
	_, sub := v.Get("subscription")

	return log || sub
}

// Call sends cmd and returns the server's response.
//
// A response carrying an "error" member is returned together with a
// [*ServerError].
//
// Example:
//
//	client := watchwire.NewTransportClientIO(conn)
//	defer client.Close()
//	resp, err := client.Call(ctx, watchwire.NewCommand("version"))
//	if err != nil {
//		log.Fatalf("Call failed: %v", err)
//	}
//	v, _ := resp.Get("version")
//	fmt.Println(v)
func (c *TransportClient) Call(ctx context.Context, cmd *Command) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp Value

	err := c.withContext(ctx, func() error {
		if err := c.out.EncodeTo(c.stream, c.serverType, c.serverCaps, cmd.Render()); err != nil {
			return err
		}

		for {
			v, err := c.in.Decode(c.stream)
			if err != nil {
				return err
			}

			if isUnilateral(v) {
				c.pending = append(c.pending, v)
				continue
			}

			resp = v

			return nil
		}
	})
	if err != nil {
		return Value{}, err
	}

	if e, ok := resp.Get("error"); ok {
		msg, _ := e.AsString()
		return resp, &ServerError{Msg: msg, Response: resp}
	}

	return resp, nil
}

// CallWithTimeout is [TransportClient.Call] bounded by timeout.
func (c *TransportClient) CallWithTimeout(ctx context.Context, timeout time.Duration, cmd *Command) (Value, error) {
	tctx, stop := context.WithTimeout(ctx, timeout)
	defer stop()

	return c.Call(tctx, cmd)
}

// Receive returns the next unilateral PDU, reading from the stream if none
// is queued. It is how subscription notifications are consumed.
func (c *TransportClient) Receive(ctx context.Context) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		v := c.pending[0]
		c.pending = c.pending[1:]

		return v, nil
	}

	var v Value

	err := c.withContext(ctx, func() error {
		var err error
		v, err = c.in.Decode(c.stream)

		return err
	})

	return v, err
}
